package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/auth"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const devTokenTTL = 24 * time.Hour

type Deps struct {
	Orch     *orch.Orchestrator
	Verifier *auth.Verifier
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(deps.Orch, signal.Options{
		Verifier:     deps.Verifier,
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		ChatLimit:    cfg.ChatRate.Limit,
		ChatInterval: cfg.ChatRate.Interval,
		Metrics:      deps.Metrics,
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(observability.MetricsHandler(deps.Gatherer)))
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Bool("auth", deps.Verifier != nil).Msg("router setup")

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Orch.Rooms.List())
	})
	api.GET("/rooms/:room/members", func(c *gin.Context) {
		id, err := domain.ParseRoomID(c.Param("room"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members, ok := deps.Orch.Members(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, members)
	})
	if cfg.Mode == "debug" && deps.Verifier != nil {
		api.POST("/token", issueToken(deps.Verifier))
	}

	r.GET("/ws/signal/:room", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("room", c.Param("room")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

type tokenRequest struct {
	Name string `json:"name" binding:"required"`
}

// issueToken mints development credentials; only mounted in debug mode.
func issueToken(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		name, err := domain.NormalizeName(req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tok, err := v.Issue(uuid.NewString(), name, devTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok, "name": name})
	}
}
