package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/export"
	"codeberg.org/mutker/mbscope/internal/history"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/gin-gonic/gin"
)

const localLayout = "2006-01-02 15:04:05"

// HistoryController serves persisted records.
type HistoryController struct {
	history  *history.Engine
	registry *channel.Registry
	now      func() time.Time
	log      logger.Logger
}

func NewHistoryController(h *history.Engine, registry *channel.Registry, now func() time.Time, log logger.Logger) *HistoryController {
	return &HistoryController{history: h, registry: registry, now: now, log: log}
}

// filterRequest is the JSON form of a history filter.
type filterRequest struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Hours    int       `json:"hours"`
	SlaveID  *int      `json:"slave_id"`
	Address  *int      `json:"address"`
	Function string    `json:"function"`
	Channel  string    `json:"channel"`
}

type deleteRangeRequest struct {
	filterRequest
	Confirm history.Confirmation `json:"confirm"`
}

type deleteRecordsRequest struct {
	IDs     []int64              `json:"ids" binding:"required"`
	Confirm history.Confirmation `json:"confirm"`
}

func (h *HistoryController) Query(c *gin.Context) {
	records, ok := h.query(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *HistoryController) Series(c *gin.Context) {
	records, ok := h.query(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, history.GroupSeries(records))
}

// Nearest finds the stored point closest to the cursor among the series the
// filter selects.
func (h *HistoryController) Nearest(c *gin.Context) {
	cursor, threshold, err := cursorQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	records, ok := h.query(c)
	if !ok {
		return
	}

	respondNearest(c, cursor, history.Traces(history.GroupSeries(records)), threshold)
}

func (h *HistoryController) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	records, ok := h.query(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName(h.now())))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *HistoryController) Channels(c *gin.Context) {
	infos, err := h.history.Channels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

// DeleteRange removes every row the filter matches. The body must carry
// the confirmation phrase.
func (h *HistoryController) DeleteRange(c *gin.Context) {
	var req deleteRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	f, err := h.filter(req.filterRequest)
	if err != nil {
		fail(c, err)
		return
	}

	n, err := h.history.DeleteRange(c.Request.Context(), f, req.Confirm)
	if err != nil {
		fail(c, err)
		return
	}
	h.log.Info().Str("client", c.ClientIP()).Int64("rows", n).Msg("History range deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *HistoryController) DeleteRecords(c *gin.Context) {
	var req deleteRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	n, err := h.history.DeleteRecords(c.Request.Context(), req.IDs, req.Confirm)
	if err != nil {
		fail(c, err)
		return
	}
	h.log.Info().Str("client", c.ClientIP()).Int64("rows", n).Msg("History records deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *HistoryController) query(c *gin.Context) ([]history.Record, bool) {
	req, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	f, err := h.filter(req)
	if err != nil {
		fail(c, err)
		return nil, false
	}

	records, err := h.history.Query(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, true
}

// filter resolves a request into a history filter. hours takes precedence
// over an explicit range; channel names resolve to their identity.
func (h *HistoryController) filter(req filterRequest) (history.Filter, error) {
	f := history.Filter{Start: req.Start, End: req.End, SlaveID: req.SlaveID, Address: req.Address}
	if req.Hours > 0 {
		window := history.LastHours(h.now(), req.Hours)
		f.Start, f.End = window.Start, window.End
	}

	switch {
	case req.Channel != "":
		cfg, ok := h.registry.Get(req.Channel)
		if !ok {
			return f, errors.New().WithData(channel.ErrNotFound, req.Channel)
		}
		id := cfg.Identity
		f.Identity = &id
	case req.Function != "":
		if req.SlaveID == nil || req.Address == nil {
			return f, errors.New().WithData(history.ErrInvalidQuery, "function requires slave_id and address")
		}
		fc, err := channel.ParseFunctionCode(req.Function)
		if err != nil {
			return f, errors.New().Wrap(history.ErrInvalidQuery, err)
		}
		f.Identity = &channel.Identity{SlaveID: *req.SlaveID, Address: *req.Address, Function: fc}
	}

	return f, nil
}

func filterFromQuery(c *gin.Context) (filterRequest, error) {
	var (
		req filterRequest
		err error
	)

	if s := c.Query("start"); s != "" {
		if req.Start, err = parseTime(s); err != nil {
			return req, err
		}
	}
	if s := c.Query("end"); s != "" {
		if req.End, err = parseTime(s); err != nil {
			return req, err
		}
	}
	if s := c.Query("hours"); s != "" {
		if req.Hours, err = strconv.Atoi(s); err != nil {
			return req, err
		}
	}
	if req.SlaveID, err = intQuery(c, "slave_id"); err != nil {
		return req, err
	}
	if req.Address, err = intQuery(c, "address"); err != nil {
		return req, err
	}
	req.Function = c.Query("function")
	req.Channel = c.Query("channel")

	return req, nil
}

func intQuery(c *gin.Context, key string) (*int, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &n, nil
}

// parseTime accepts RFC 3339 or a local "2006-01-02 15:04:05" timestamp.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localLayout, s, time.Local)
}
