package governor

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "log/slog"

	"github.com/gin-gonic/gin"
)

// Daemon runs the governor on a polling interval and serves liveness and
// readiness endpoints.
type Daemon struct {
	governor *Governor
	interval time.Duration
	// sync, when set, runs before each tick to catch projections up with the
	// event log.
	sync  func(ctx context.Context) error
	ready atomic.Bool
}

func NewDaemon(g *Governor, interval time.Duration, sync func(ctx context.Context) error) *Daemon {
	if interval <= 0 {
		interval = time.Second
	}
	return &Daemon{
		governor: g,
		interval: interval,
		sync:     sync,
	}
}

// Run polls until the context is cancelled. The daemon reports ready after
// its first completed tick.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.ready.Store(false)
			return ctx.Err()
		case <-ticker.C:
			if d.sync != nil {
				if err := d.sync(ctx); err != nil {
					log.Warn("projection sync failed", "error", err.Error())
					continue
				}
			}
			if _, err := d.governor.Tick(ctx); err != nil {
				log.Warn("governor tick failed", "error", err.Error())
				continue
			}
			d.ready.Store(true)
		}
	}
}

// HealthRouter serves /health and /ready.
func (d *Daemon) HealthRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if !d.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	return router
}

// ServeHealth runs the health server until the context is cancelled.
func (d *Daemon) ServeHealth(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: d.HealthRouter(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server, details: %v", err)
	}
	return nil
}
