package http

import (
	"context"
	"net/http"

	"github.com/dkeye/pairrelay/internal/adapters/signal"
	"github.com/dkeye/pairrelay/internal/app/orch"
	"github.com/dkeye/pairrelay/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func SignalOptions(cfg *config.Config) signal.Options {
	return signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(o, SignalOptions(cfg))
	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("path", c.Request.URL.Path).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}
	// Peers may connect on the bare root as well as /ws.
	r.GET("/", ws)
	r.GET("/ws", ws)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.ListRooms())
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
