package channel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/mbscope/internal/errors"
	"gopkg.in/yaml.v3"
)

// Format is a config transfer encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the transfer format from a file extension,
// defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.New().WithData(ErrImportFormat, "unknown format "+s)
	}
}

// Record is the flat transfer form of a Config. Pointer fields are optional
// on import.
type Record struct {
	Name         string   `json:"name" yaml:"name"`
	SlaveID      *int     `json:"slave_id,omitempty" yaml:"slave_id,omitempty"`
	Address      *int     `json:"address,omitempty" yaml:"address,omitempty"`
	Count        *int     `json:"count,omitempty" yaml:"count,omitempty"`
	FunctionCode *int     `json:"function_code,omitempty" yaml:"function_code,omitempty"`
	Unit         string   `json:"unit" yaml:"unit"`
	Scale        *float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	Offset       *float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	Color        string   `json:"color,omitempty" yaml:"color,omitempty"`
}

// Config converts r, filling defaults for missing optional fields. Name and
// address are required.
func (r Record) Config() (Config, error) {
	if strings.TrimSpace(r.Name) == "" {
		return Config{}, errors.New().WithData(ErrInvalidConfig, "record without name")
	}
	if r.Address == nil {
		return Config{}, errors.New().WithData(ErrInvalidConfig, r.Name+": address is required")
	}

	cfg := NewConfig(r.Name, Identity{SlaveID: 1, Address: *r.Address, Function: ReadHoldingRegisters})
	cfg.Unit = r.Unit
	if r.SlaveID != nil {
		cfg.Identity.SlaveID = *r.SlaveID
	}
	if r.FunctionCode != nil {
		if *r.FunctionCode < int(ReadCoils) || *r.FunctionCode > int(ReadInputRegisters) {
			return Config{}, errors.New().WithData(ErrInvalidConfig, r.Name+": unsupported function code")
		}
		cfg.Identity.Function = FunctionCode(*r.FunctionCode)
	}
	if r.Count != nil {
		cfg.Count = *r.Count
	}
	if r.Scale != nil {
		cfg.Scale = *r.Scale
	}
	if r.Offset != nil {
		cfg.Offset = *r.Offset
	}
	if r.Color != "" {
		cfg.Color = Color(strings.ToLower(r.Color))
	}

	return cfg, cfg.Validate()
}

// RecordOf converts a Config to its transfer form.
func RecordOf(cfg Config) Record {
	slave, addr, count, fc := cfg.Identity.SlaveID, cfg.Identity.Address, cfg.Count, int(cfg.Identity.Function)
	scale, offset := cfg.Scale, cfg.Offset

	return Record{
		Name:         cfg.Name,
		SlaveID:      &slave,
		Address:      &addr,
		Count:        &count,
		FunctionCode: &fc,
		Unit:         cfg.Unit,
		Scale:        &scale,
		Offset:       &offset,
		Color:        string(cfg.Color),
	}
}

// Decode parses an import payload. Anything other than a list of records is
// rejected with ErrImportFormat.
func Decode(data []byte, format Format) ([]Record, error) {
	var records []Record

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, errors.New().Wrap(ErrImportFormat, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errors.New().Wrap(ErrImportFormat, err)
		}
	default:
		return nil, errors.New().WithData(ErrImportFormat, "unknown format "+string(format))
	}

	return records, nil
}

// Encode renders configs as a flat record list.
func Encode(cfgs []Config, format Format) ([]byte, error) {
	records := make([]Record, 0, len(cfgs))
	for _, cfg := range cfgs {
		records = append(records, RecordOf(cfg))
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(records)
	case FormatJSON:
		data, err = json.MarshalIndent(records, "", "  ")
	default:
		return nil, errors.New().WithData(ErrExport, "unknown format "+string(format))
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrExport, err)
	}

	return data, nil
}

// ImportResult reports per-record import outcomes.
type ImportResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Import decodes data and upserts every record by name. Invalid records are
// counted and skipped; the rest are still saved.
func (r *Registry) Import(ctx context.Context, data []byte, format Format) (ImportResult, error) {
	records, err := Decode(data, format)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	for _, rec := range records {
		cfg, err := rec.Config()
		if err == nil {
			_, err = r.Upsert(ctx, cfg)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			r.log.Warn().Str("channel", rec.Name).Err(err).Msg("Skipping imported channel")
			continue
		}
		result.Succeeded++
	}

	r.log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("Imported channel configurations")

	return result, nil
}

// ImportFile imports the file at path, choosing the format by extension.
func (r *Registry) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, errors.New().Wrap(ErrImportRead, err).WithData(path)
	}

	return r.Import(ctx, data, FormatFromPath(path))
}

// Export encodes the whole library.
func (r *Registry) Export(format Format) ([]byte, error) {
	return Encode(r.Configs(), format)
}
