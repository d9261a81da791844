// Package httpapi hosts the HTTP side of the relay: the websocket gateway,
// health, metrics and the admin report listing.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/repository"
)

// Status is what /healthz reports.
type Status interface {
	Ready() bool
	PoolLen() int
}

type Deps struct {
	WS         gin.HandlerFunc
	Status     Status
	Reports    *repository.ReportRepository
	Metrics    *metrics.Metrics
	AdminToken string
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		if !d.Status.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "recovering"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "waiting": d.Status.PoolLen()})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	if d.WS != nil {
		r.GET("/ws", d.WS)
	}

	admin := r.Group("/admin", adminAuth(d.AdminToken))
	{
		h := &reportHandler{repo: d.Reports}
		admin.GET("/reports", h.List)
	}
	return r
}

// adminAuth checks "Authorization: Bearer <token>". An empty token
// disables the admin routes.
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "not found"})
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).String(),
		)
	}
}
