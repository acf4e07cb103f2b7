package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel           = "info"
	DefaultTransport          = TransportTCP
	DefaultDeviceAddress      = "127.0.0.1:502"
	DefaultSerialPort         = "/dev/ttyUSB0"
	DefaultBaudRate           = 9600
	DefaultDataBits           = 8
	DefaultParity             = "N"
	DefaultStopBits           = 1
	DefaultDeviceTimeout      = time.Second
	DefaultInterval           = time.Second
	DefaultBufferSize         = 1000
	DefaultMaxConcurrentReads = 4
	DefaultDisplayWindow      = 60 * time.Second
	DefaultPersistInterval    = 5 * time.Second
	DefaultDBPath             = "/var/lib/mbscope/mbscope.db"
	DefaultListen             = ":8080"
	DefaultStream             = "mbscope:samples"
	DefaultStreamMaxLen       = 10000
	DefaultMetricsNamespace   = "mbscope"

	defaultEnvPrefix = "MBSCOPE"
	configName       = "mbscope"
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	PIDFile     string            `mapstructure:"pid_file"`
	Device      DeviceConfig      `mapstructure:"device"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Storage     StorageConfig     `mapstructure:"storage"`
	API         APIConfig         `mapstructure:"api"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type DeviceConfig struct {
	Transport  Transport     `mapstructure:"transport"`
	Address    string        `mapstructure:"address"`
	SerialPort string        `mapstructure:"serial_port"`
	BaudRate   int           `mapstructure:"baud_rate"`
	DataBits   int           `mapstructure:"data_bits"`
	Parity     string        `mapstructure:"parity"`
	StopBits   int           `mapstructure:"stop_bits"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type AcquisitionConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	BufferSize         int           `mapstructure:"buffer_size"`
	MaxConcurrentReads int           `mapstructure:"max_concurrent_reads"`
	// TickDeadline bounds the reads of one tick. Zero means the interval.
	TickDeadline  time.Duration `mapstructure:"tick_deadline"`
	DisplayWindow time.Duration `mapstructure:"display_window"`
	Autostart     bool          `mapstructure:"autostart"`
	Channels      []string      `mapstructure:"channels"`
	// ImportFile is a JSON or YAML channel list upserted on boot.
	ImportFile string `mapstructure:"import_file"`
}

type PersistenceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type StorageConfig struct {
	DBPath          string `mapstructure:"db_path"`
	BackupOnMigrate bool   `mapstructure:"backup_on_migrate"`
	BackupDir       string `mapstructure:"backup_dir"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type TelemetryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Stream        string `mapstructure:"stream"`
	MaxLen        int64  `mapstructure:"max_len"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":   "log_level",
	"pid-file":    "pid_file",
	"transport":   "device.transport",
	"device":      "device.address",
	"serial-port": "device.serial_port",
	"interval":    "acquisition.interval",
	"autostart":   "acquisition.autostart",
	"channels":    "acquisition.channels",
	"import":      "acquisition.import_file",
	"db":          "storage.db_path",
	"listen":      "api.listen",
	"persist":     "persistence.enabled",
	"metrics":     "metrics.enabled",
}

// Load reads configuration from defaults, the config file, the environment
// and the command line, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	return LoadArgs(os.Args[1:], opts...)
}

// LoadArgs is Load with explicit command line arguments.
func LoadArgs(args []string, opts ...Option) (*Config, error) {
	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	var flagErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if f.Name == "channels" {
			list, err := fs.GetStringSlice(f.Name)
			if err != nil {
				flagErr = err
				return
			}
			v.Set(key, list)
			return
		}
		v.Set(key, f.Value.String())
	})
	if flagErr != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, flagErr)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("pid-file", "", "Path to the PID file")
	fs.String("transport", string(DefaultTransport), "Device transport (tcp, rtu)")
	fs.String("device", DefaultDeviceAddress, "Modbus TCP address")
	fs.String("serial-port", DefaultSerialPort, "Serial port for Modbus RTU")
	fs.Duration("interval", DefaultInterval, "Acquisition interval")
	fs.Bool("autostart", false, "Start acquisition on boot")
	fs.StringSlice("channels", nil, "Channels to activate on boot")
	fs.String("import", "", "Channel file (JSON or YAML) to import on boot")
	fs.String("db", DefaultDBPath, "Path to the SQLite database")
	fs.String("listen", DefaultListen, "HTTP API listen address")
	fs.Bool("persist", true, "Persist samples to the database")
	fs.Bool("metrics", true, "Expose Prometheus metrics")

	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", "")

	v.SetDefault("device.transport", string(DefaultTransport))
	v.SetDefault("device.address", DefaultDeviceAddress)
	v.SetDefault("device.serial_port", DefaultSerialPort)
	v.SetDefault("device.baud_rate", DefaultBaudRate)
	v.SetDefault("device.data_bits", DefaultDataBits)
	v.SetDefault("device.parity", DefaultParity)
	v.SetDefault("device.stop_bits", DefaultStopBits)
	v.SetDefault("device.timeout", DefaultDeviceTimeout)

	v.SetDefault("acquisition.interval", DefaultInterval)
	v.SetDefault("acquisition.buffer_size", DefaultBufferSize)
	v.SetDefault("acquisition.max_concurrent_reads", DefaultMaxConcurrentReads)
	v.SetDefault("acquisition.tick_deadline", time.Duration(0))
	v.SetDefault("acquisition.display_window", DefaultDisplayWindow)
	v.SetDefault("acquisition.autostart", false)
	v.SetDefault("acquisition.channels", []string{})
	v.SetDefault("acquisition.import_file", "")

	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.interval", DefaultPersistInterval)

	v.SetDefault("storage.db_path", DefaultDBPath)
	v.SetDefault("storage.backup_on_migrate", true)
	v.SetDefault("storage.backup_dir", "")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultListen)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.redis_addr", "")
	v.SetDefault("telemetry.redis_password", "")
	v.SetDefault("telemetry.redis_db", 0)
	v.SetDefault("telemetry.stream", DefaultStream)
	v.SetDefault("telemetry.max_len", DefaultStreamMaxLen)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if path == "" {
		path = o.configPath
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		dirs := o.searchDirs
		if dirs == nil {
			dirs = defaultSearchDirs()
		}
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func defaultSearchDirs() []string {
	dirs := []string{"/etc/mbscope"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "mbscope"))
	}

	return dirs
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	factory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() && !strings.EqualFold(c.LogLevel, "warn") {
		return factory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	switch c.Device.Transport {
	case TransportTCP:
		if c.Device.Address == "" {
			return factory.WithData(errors.ErrInvalidConfig, "device.address is empty")
		}
	case TransportRTU:
		if c.Device.SerialPort == "" {
			return factory.WithData(errors.ErrInvalidConfig, "device.serial_port is empty")
		}
		switch strings.ToUpper(c.Device.Parity) {
		case "N", "E", "O":
		default:
			return factory.WithData(errors.ErrInvalidConfig, "device.parity must be N, E or O")
		}
	default:
		return factory.WithData(errors.ErrInvalidConfig, "unknown device.transport "+string(c.Device.Transport))
	}

	if c.Device.Timeout <= 0 {
		return factory.WithData(errors.ErrInvalidInterval, "device.timeout")
	}
	if c.Acquisition.Interval <= 0 {
		return factory.WithData(errors.ErrInvalidInterval, "acquisition.interval")
	}
	if c.Acquisition.TickDeadline < 0 {
		return factory.WithData(errors.ErrInvalidInterval, "acquisition.tick_deadline")
	}
	if c.Acquisition.DisplayWindow <= 0 {
		return factory.WithData(errors.ErrInvalidInterval, "acquisition.display_window")
	}
	if c.Acquisition.BufferSize <= 0 {
		return factory.WithData(errors.ErrInvalidConfig, "acquisition.buffer_size must be positive")
	}
	if c.Acquisition.MaxConcurrentReads <= 0 {
		return factory.WithData(errors.ErrInvalidConfig, "acquisition.max_concurrent_reads must be positive")
	}
	if c.Persistence.Enabled && c.Persistence.Interval <= 0 {
		return factory.WithData(errors.ErrInvalidInterval, "persistence.interval")
	}
	if c.Storage.DBPath == "" {
		return factory.WithData(errors.ErrInvalidConfig, "storage.db_path is empty")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return factory.WithData(errors.ErrInvalidConfig, "api.listen is empty")
	}
	if c.Telemetry.Enabled && c.Telemetry.RedisAddr == "" {
		return factory.WithData(errors.ErrInvalidConfig, "telemetry.redis_addr is empty")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return factory.WithData(errors.ErrInvalidConfig, "metrics.namespace is empty")
	}

	return nil
}

func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics.Enabled
}

// EffectiveTickDeadline returns the per-tick read deadline.
func (c *AcquisitionConfig) EffectiveTickDeadline() time.Duration {
	if c.TickDeadline > 0 {
		return c.TickDeadline
	}

	return c.Interval
}

// EffectiveBackupDir returns the directory migration backups are written to.
func (c *StorageConfig) EffectiveBackupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}

	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}
