package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/mbscope/internal/acquisition"
	"github.com/gin-gonic/gin"
)

// AcquisitionController drives the polling loop.
type AcquisitionController struct {
	engine *acquisition.Engine
}

func NewAcquisitionController(engine *acquisition.Engine) *AcquisitionController {
	return &AcquisitionController{engine: engine}
}

type startRequest struct {
	Interval string `json:"interval" binding:"required"`
}

type persistenceRequest struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

func (h *AcquisitionController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

func (h *AcquisitionController) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.engine.Start(interval); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

func (h *AcquisitionController) Stop(c *gin.Context) {
	if err := h.engine.Stop(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// Tick polls every active channel once, outside the loop.
func (h *AcquisitionController) Tick(c *gin.Context) {
	res, err := h.engine.Tick(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AcquisitionController) Flush(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Flush(c.Request.Context()))
}

func (h *AcquisitionController) SetPersistence(c *gin.Context) {
	var req persistenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var interval time.Duration
	if req.Interval != "" {
		var err error
		if interval, err = time.ParseDuration(req.Interval); err != nil {
			badRequest(c, err)
			return
		}
	}

	if err := h.engine.SetPersistence(req.Enabled, interval); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}
