// Package ingress serves the bot's small public HTTP surface: liveness,
// health, Prometheus metrics and an authenticated stats endpoint.
package ingress

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wsotp/internal/logger"
	"wsotp/internal/metrics"
	"wsotp/internal/sentry"
	"wsotp/pkg/protocol"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping() error
}

// StatsSource produces the day's counters for /api/stats.
type StatsSource interface {
	Stats() (protocol.Stats, error)
}

// Tracking reports how many numbers are being polled.
type Tracking interface {
	Len() int
}

type Ingress struct {
	Port     string
	DB       Pinger
	Stats    StatsSource
	Tracking Tracking
	// APIToken guards /api routes; empty disables them.
	APIToken string

	started time.Time
}

func NewIngress(port string, db Pinger, stats StatsSource, tracking Tracking, apiToken string) *Ingress {
	return &Ingress{
		Port:     port,
		DB:       db,
		Stats:    stats,
		Tracking: tracking,
		APIToken: apiToken,
		started:  time.Now(),
	}
}

func (i *Ingress) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), sentry.Middleware())

	r.GET("/", i.handleRoot)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/health", i.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", i.requireToken)
	api.GET("/stats", i.handleStats)

	return r
}

func (i *Ingress) Start() error {
	logger.Info("Ingress listening on %s (HTTP)", i.Port)
	return http.ListenAndServe(i.Port, i.Handler())
}

func (i *Ingress) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "wsotp bot is running")
}

func (i *Ingress) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(i.started).Round(time.Second).String(),
	}
	if i.Tracking != nil {
		body["tracking"] = i.Tracking.Len()
	}
	if i.DB != nil {
		if err := i.DB.Ping(); err != nil {
			logger.Warn("[ingress] health: database ping failed: %v", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(status, body)
}

// requireToken checks "Authorization: Bearer <APIToken>".
func (i *Ingress) requireToken(c *gin.Context) {
	if i.APIToken == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(i.APIToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (i *Ingress) handleStats(c *gin.Context) {
	st, err := i.Stats.Stats()
	if err != nil {
		sentry.CaptureError(err, "[ingress] stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, st)
}
