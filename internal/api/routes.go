package api

import (
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps, log logger.Logger) {
	channels := NewChannelController(deps.Registry, deps.Engine)
	acq := NewAcquisitionController(deps.Engine)
	hist := NewHistoryController(deps.History, deps.Registry, deps.Now, log)

	api := router.Group("/api/v1")

	ch := api.Group("/channels")
	{
		ch.GET("", channels.List)
		ch.POST("", channels.Create)
		ch.GET("/conflicts", channels.Conflicts)
		ch.GET("/colors", channels.Colors)
		ch.GET("/export", channels.Export)
		ch.POST("/import", channels.Import)
		ch.GET("/:name", channels.Get)
		ch.PUT("/:name", channels.Update)
		ch.DELETE("/:name", channels.Delete)
	}

	active := api.Group("/active")
	{
		active.GET("", channels.Active)
		active.DELETE("", channels.ClearActive)
		active.GET("/nearest", channels.Nearest)
		active.POST("/:name", channels.Activate)
		active.DELETE("/:name", channels.Deactivate)
		active.GET("/:name/samples", channels.Samples)
		active.DELETE("/:name/samples", channels.ClearSamples)
	}

	a := api.Group("/acquisition")
	{
		a.GET("", acq.Status)
		a.POST("/start", acq.Start)
		a.POST("/stop", acq.Stop)
		a.POST("/tick", acq.Tick)
		a.POST("/flush", acq.Flush)
		a.PUT("/persistence", acq.SetPersistence)
	}

	h := api.Group("/history")
	{
		h.GET("/records", hist.Query)
		h.DELETE("/records", hist.DeleteRange)
		h.POST("/records/delete", hist.DeleteRecords)
		h.GET("/channels", hist.Channels)
		h.GET("/series", hist.Series)
		h.GET("/nearest", hist.Nearest)
		h.GET("/export", hist.Export)
	}

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
}
