package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/mbscope/internal/acquisition"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/locate"
	"github.com/gin-gonic/gin"
)

// ChannelController handles the config library and the active set.
type ChannelController struct {
	registry *channel.Registry
	engine   *acquisition.Engine
}

func NewChannelController(registry *channel.Registry, engine *acquisition.Engine) *ChannelController {
	return &ChannelController{registry: registry, engine: engine}
}

type channelView struct {
	channel.Config
	Active bool `json:"active"`
}

func (h *ChannelController) view(cfg channel.Config) channelView {
	return channelView{Config: cfg, Active: h.registry.IsActive(cfg.Name)}
}

func (h *ChannelController) List(c *gin.Context) {
	cfgs := h.registry.Configs()
	out := make([]channelView, len(cfgs))
	for i, cfg := range cfgs {
		out[i] = h.view(cfg)
	}
	c.JSON(http.StatusOK, out)
}

func (h *ChannelController) Get(c *gin.Context) {
	cfg, ok := h.registry.Get(c.Param("name"))
	if !ok {
		fail(c, errors.New().WithData(channel.ErrNotFound, c.Param("name")))
		return
	}
	c.JSON(http.StatusOK, h.view(cfg))
}

// Create accepts the flat transfer record; missing optional fields take
// their defaults.
func (h *ChannelController) Create(c *gin.Context) {
	var rec channel.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, err)
		return
	}

	cfg, err := rec.Config()
	if err != nil {
		fail(c, err)
		return
	}

	saved, err := h.registry.Add(c.Request.Context(), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(saved))
}

// Update replaces the config stored under :name. A different name in the
// body renames the channel.
func (h *ChannelController) Update(c *gin.Context) {
	var rec channel.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, err)
		return
	}
	if rec.Name == "" {
		rec.Name = c.Param("name")
	}

	cfg, err := rec.Config()
	if err != nil {
		fail(c, err)
		return
	}

	saved, err := h.registry.Update(c.Request.Context(), c.Param("name"), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(saved))
}

func (h *ChannelController) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChannelController) Conflicts(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.IdentityConflicts())
}

func (h *ChannelController) Import(c *gin.Context) {
	format, err := channel.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.registry.Import(c.Request.Context(), data, format)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChannelController) Export(c *gin.Context) {
	format, err := channel.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}

	data, err := h.registry.Export(format)
	if err != nil {
		fail(c, err)
		return
	}

	contentType := "application/json"
	if format == channel.FormatYAML {
		contentType = "application/yaml"
	}
	c.Header("Content-Disposition", `attachment; filename="channels.`+string(format)+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func (h *ChannelController) Active(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Latest())
}

func (h *ChannelController) Activate(c *gin.Context) {
	changed, err := h.registry.Activate(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "changed": changed})
}

func (h *ChannelController) Deactivate(c *gin.Context) {
	changed, err := h.registry.Deactivate(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "changed": changed})
}

func (h *ChannelController) ClearActive(c *gin.Context) {
	h.registry.ClearActive()
	c.Status(http.StatusNoContent)
}

// Samples returns the display window of one active channel. An optional
// window query parameter overrides the configured width.
func (h *ChannelController) Samples(c *gin.Context) {
	window, err := durationQuery(c, "window")
	if err != nil {
		badRequest(c, err)
		return
	}

	samples, err := h.engine.WindowFor(c.Param("name"), window)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}

// ClearSamples empties the live buffer of an active channel.
func (h *ChannelController) ClearSamples(c *gin.Context) {
	if err := h.engine.ClearSamples(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Colors lists the palette in selection order.
func (h *ChannelController) Colors(c *gin.Context) {
	c.JSON(http.StatusOK, channel.Colors())
}

// Nearest finds the live sample closest to the cursor given by the time and
// value query parameters.
func (h *ChannelController) Nearest(c *gin.Context) {
	cursor, threshold, err := cursorQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	window, err := durationQuery(c, "window")
	if err != nil {
		badRequest(c, err)
		return
	}

	var series []locate.Series
	for _, a := range h.registry.Snapshot() {
		samples, err := h.engine.WindowFor(a.Config.Name, window)
		if err != nil {
			continue
		}
		series = append(series, locate.FromSamples(a.Config.Name, samples))
	}

	respondNearest(c, cursor, series, threshold)
}

func respondNearest(c *gin.Context, cursor locate.Point, series []locate.Series, threshold float64) {
	hit, ok := locate.Nearest(cursor, locate.Fit(series), series, threshold)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"hit": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hit": true, "label": hit.Label, "point": hit.Point, "distance": hit.Distance})
}

func durationQuery(c *gin.Context, key string) (time.Duration, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func cursorQuery(c *gin.Context) (locate.Point, float64, error) {
	t, err := parseTime(c.Query("time"))
	if err != nil {
		return locate.Point{}, 0, err
	}
	v, err := strconv.ParseFloat(c.Query("value"), 64)
	if err != nil {
		return locate.Point{}, 0, err
	}

	var threshold float64
	if s := c.Query("threshold"); s != "" {
		if threshold, err = strconv.ParseFloat(s, 64); err != nil {
			return locate.Point{}, 0, err
		}
	}

	return locate.Point{Time: t, Value: v}, threshold, nil
}
