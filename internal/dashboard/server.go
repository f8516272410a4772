package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/logger"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

// Server hosts the Gin-powered monitoring dashboard for OptionFlow.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	statusStore       *StatusStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log)

	server := &Server{
		cfg:               cfg,
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		statusStore:       newStatusStore(cfg.MetricsHistory),
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Status exposes the store the collector pushes cycle results into. Safe on a
// nil server so the wiring code does not need to special-case a disabled
// dashboard.
func (s *Server) Status() *StatusStore {
	if s == nil {
		return nil
	}
	return s.statusStore
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/api/status", func(c *gin.Context) {
		last := s.statusStore.lastUpdate()
		hooks := s.statusStore.hooks()

		payload := gin.H{
			"app":             appName,
			"provider":        last.Provider,
			"cycle_number":    last.CycleNumber,
			"last_cycle_ms":   last.LastDuration.Milliseconds(),
			"success_percent": last.SuccessRate * 100,
		}
		if !last.UpdatedAt.IsZero() {
			payload["updated_at"] = last.UpdatedAt.Format(time.RFC3339)
		}
		if hooks.CollectorState != nil {
			payload["state"] = hooks.CollectorState()
		}
		if hooks.ProviderStats != nil {
			payload["provider_stats"] = hooks.ProviderStats()
		}
		if hooks.WriterStats != nil {
			ws := hooks.WriterStats()
			payload["writer_stats"] = gin.H{
				"batches_written": ws.BatchesWritten,
				"files_written":   ws.FilesWritten,
				"bytes_written":   ws.BytesWritten,
				"errors_count":    ws.ErrorsCount,
				"chain_queue_len": ws.ChainQueueLen,
				"chain_queue_cap": ws.ChainQueueCap,
				"spot_queue_len":  ws.SpotQueueLen,
				"spot_queue_cap":  ws.SpotQueueCap,
			}
		}
		if hooks.ChannelStats != nil {
			cs := hooks.ChannelStats()
			payload["channels"] = gin.H{
				"chain_sent":    cs.ChainSent,
				"chain_dropped": cs.ChainDropped,
				"spot_sent":     cs.SpotSent,
				"spot_dropped":  cs.SpotDropped,
			}
		}

		c.JSON(http.StatusOK, payload)
	})

	router.GET("/api/cycles", func(c *gin.Context) {
		history := s.statusStore.history()
		payload := make([]gin.H, 0, len(history))
		for _, r := range history {
			outcomes := make([]gin.H, 0, len(r.Outcomes))
			for _, o := range r.Outcomes {
				entry := gin.H{
					"index":       o.Index,
					"success":     o.Success,
					"duration_ms": o.Duration.Milliseconds(),
					"rows":        o.Rows,
				}
				if len(o.Expiries) > 0 {
					entry["expiries"] = o.Expiries
				}
				if o.ErrorKind != models.ErrKindNone {
					entry["error_kind"] = o.ErrorKind
				}
				if o.Err != "" {
					entry["error"] = o.Err
				}
				outcomes = append(outcomes, entry)
			}
			payload = append(payload, gin.H{
				"cycle_number":    r.CycleNumber,
				"started_at":      r.StartedAt.Format(time.RFC3339Nano),
				"duration_ms":     r.Duration.Milliseconds(),
				"success_percent": r.SuccessRate() * 100,
				"total_rows":      r.TotalRows(),
				"outcomes":        outcomes,
			})
		}
		c.JSON(http.StatusOK, gin.H{"cycles": payload})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot(c.Query("component"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot(c.Query("level"))
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"net_bytes_sent": snap.NetSent,
				"net_bytes_recv": snap.NetRecv,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	return router, nil
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
