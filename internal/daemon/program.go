package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/judwhite/go-svc"

	"github.com/adcondev/printer-proxy/internal/auth"
	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/dispatch"
	"github.com/adcondev/printer-proxy/internal/health"
	"github.com/adcondev/printer-proxy/internal/pool"
	"github.com/adcondev/printer-proxy/internal/registry"
	"github.com/adcondev/printer-proxy/internal/server"
	"github.com/adcondev/printer-proxy/internal/worker"
)

// Health records stay around long enough for the /health/printers summary to
// report recently-offline printers, not just the current TTL window.
const healthRetentionFactor = 10

// Program implements svc.Service interface
type Program struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	env        config.Environment
	httpServer *http.Server
	wsServer   *server.Server
	worker     *worker.Worker
	registry   *registry.Registry
	pools      *pool.Manager
	cache      *health.Cache
	started    time.Time
}

// Init initializes the service
func (p *Program) Init(_ svc.Environment) error {
	p.env = config.GetEnvironment(config.BuildEnvironment)

	if err := initLogging(p.env); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║   PRINTER PROXY - ESC/POS Print Service                    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Printf("[i] Starting service - Environment: %s", p.env.Name)
	log.Printf("[i] Build: %s %s", config.BuildDate, config.BuildTime)

	return nil
}

// Start wires the registry, health cache, connection pools, dispatcher,
// WebSocket server and print worker, then starts serving HTTP.
func (p *Program) Start() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.started = time.Now()

	reg, err := registry.Open(config.PrintersPath())
	if err != nil {
		return fmt.Errorf("opening printer registry: %w", err)
	}
	p.registry = reg
	log.Printf("[i] Printer registry: %d printers from %s", reg.Len(), config.PrintersPath())

	p.cache = health.NewCache(healthRetentionFactor * p.env.HealthTTL)
	prober := health.NewProber()

	p.pools = pool.NewManager(pool.Options{
		MaxPerPrinter:  p.env.MaxPoolSize,
		MaxAge:         p.env.ConnMaxAge,
		IdleTimeout:    p.env.ConnIdleTimeout,
		AcquireTimeout: p.env.AcquireTimeout,
	})

	dispatcher := dispatch.New(reg, p.cache, prober, p.pools, dispatch.Options{
		HealthTTL:        p.env.HealthTTL,
		ProbeTimeout:     p.env.ProbeTimeout,
		BulkProbeTimeout: p.env.BulkProbeTimeout,
		SendTimeout:      p.env.WriteTimeout,
	})

	authManager := auth.NewManager(p.ctx)
	if !authManager.Enabled() {
		log.Println("[!] No admin token hash configured, printer management API disabled")
	}

	p.wsServer = server.NewServer(server.Config{
		QueueSize: p.env.QueueCapacity,
	}, reg, p.cache)

	p.worker = worker.NewWorker(p.wsServer.JobQueue(), p.wsServer, dispatcher, worker.Config{})
	p.worker.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.wsServer.HandleWebSocket)
	mux.HandleFunc("GET /health", p.handleServiceHealth)
	mux.HandleFunc("GET /healthz", p.handleServiceHealth)
	server.NewHandlers(dispatcher, reg, authManager).Register(mux)

	p.httpServer = &http.Server{
		Addr:         p.env.ListenAddr,
		Handler:      mux,
		ReadTimeout:  p.env.ReadTimeout,
		WriteTimeout: p.env.WriteTimeout,
		IdleTimeout:  p.env.IdleTimeout,
	}

	p.wg.Add(1)
	go p.reapLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		log.Printf("[i] PRINTER PROXY serving - Environment: %s", p.env.Name)
		log.Printf("[i] WebSocket: ws://%s/ws", p.env.ListenAddr)
		log.Printf("[i] Print API: http://%s/print/{printer_id}", p.env.ListenAddr)
		log.Printf("[i] Health:    http://%s/health", p.env.ListenAddr)

		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[X] HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	log.Println("[.] Service stopping...")

	if p.cancel != nil {
		p.cancel()
	}

	if p.worker != nil {
		p.worker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[!] Error during HTTP shutdown: %v", err)
		}
	}

	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}

	if p.pools != nil {
		p.pools.Shutdown()
	}

	p.wg.Wait()

	log.Println("[OK] Service stopped cleanly")
	return nil
}

// reapLoop periodically evicts expired pooled connections and stale health
// records.
func (p *Program) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.env.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			reaped := p.pools.ReapAll(now)
			swept := p.cache.Sweep(now)
			if reaped > 0 || swept > 0 {
				log.Printf("[REAPER] 🧹 Evicted %d idle/aged connections, %d stale health records", reaped, swept)
			}
		}
	}
}

func (p *Program) handleServiceHealth(w http.ResponseWriter, _ *http.Request) {
	current, capacity := p.wsServer.QueueStatus()
	workerStats := p.worker.Stats()
	poolStats := p.pools.Stats()

	utilization := 0.0
	if capacity > 0 {
		utilization = float64(current) / float64(capacity)
	}

	resp := HealthResponse{
		Status: "ok",
		Queue: QueueStatus{
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Worker: WorkerStatus{
			Running:       workerStats.IsRunning,
			JobsProcessed: workerStats.JobsProcessed,
			JobsFailed:    workerStats.JobsFailed,
		},
		Pool: PoolStatus{
			Printers:  poolStats.Printers,
			IdleConns: poolStats.IdleConns,
		},
		Clients:  p.wsServer.ClientCount(),
		Printers: p.registry.Len(),
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(p.started).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[!] Error encoding health response: %v", err)
	}
}

func initLogging(env config.Environment) error {
	stateDir := os.Getenv("PROGRAMDATA")
	if stateDir == "" {
		stateDir = "."
	}

	logPath := env.LogPath(stateDir)
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return err
	}

	if err := InitLogger(logPath, env.Verbose); err != nil {
		return err
	}

	log.Printf("[i] Logs at: %s", logPath)
	return nil
}
