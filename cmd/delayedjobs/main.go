package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jj902/delayedjobs/internal/analytics"
	"github.com/jj902/delayedjobs/internal/api"
	"github.com/jj902/delayedjobs/internal/bank"
	"github.com/jj902/delayedjobs/internal/circuitbreaker"
	"github.com/jj902/delayedjobs/internal/config"
	"github.com/jj902/delayedjobs/internal/escrow"
	"github.com/jj902/delayedjobs/internal/events"
	"github.com/jj902/delayedjobs/internal/invoker"
	"github.com/jj902/delayedjobs/internal/journal"
	"github.com/jj902/delayedjobs/internal/metrics"
	"github.com/jj902/delayedjobs/internal/monitor"
	"github.com/jj902/delayedjobs/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("delayedjobs: loaded environment from .env")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`delayedjobs - reverse-auction escrow for delayed job execution

Usage:
  delayedjobs <command>

Commands:
  serve      Start the escrow ledger and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  HTTP_ADDR                 HTTP server address (default: ":8080")
  DATABASE_URL              PostgreSQL URL for the event journal (optional)
  REDIS_ADDR                Redis address for analytics counters (optional)

  INVOKER_SECRET            HMAC secret for signing invocation requests
  INVOKE_TIMEOUT            Outbound invocation timeout (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD Failures before a target is tripped; "0" disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Cooldown before a tripped target is probed (default: "2m")

  LEGACY_TRANSFER_EVENTS    Reproduce inverted transfer-failure events (default: "false")

  EVENTBUS_BUFFER_SIZE      Event bus buffer capacity (default: "100")
  JOURNAL_DRAIN_TIMEOUT     Journal event drain timeout on shutdown (default: "30s")
  MONITOR_INTERVAL          Gauge sweep interval (default: "30s")
  ANALYTICS_RETENTION       TTL for analytics counters (default: "24h")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("delayedjobs: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("delayedjobs: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("delayedjobs: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("delayedjobs: METRICS_ENABLED not set; metrics disabled")
	}

	// Connect to PostgreSQL for the durable event journal (optional)
	var store *postgres.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}

		store = postgres.New(db, cfg.DBOpTimeout)
		if err := store.EnsureSchema(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
			return exitRuntimeError
		}
		log.Printf("delayedjobs: event journal enabled (max_open=%d, max_idle=%d)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	} else {
		log.Println("delayedjobs: DATABASE_URL not set; event journal disabled")
	}

	// Outbound invocation path
	httpInvoker := invoker.NewHTTPInvoker(cfg.InvokerSecret, cfg.InvokeTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		httpInvoker = httpInvoker.WithBreaker(
			circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("delayedjobs: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Event pipeline: in-memory log for API reads, buffered bus for the journal
	eventLog := events.NewLog()
	var busOpts []events.Option
	if metricsSink != nil {
		busOpts = append(busOpts, events.WithMetrics(metricsSink))
	}
	bus := events.NewBus(cfg.EventBusBufferSize, busOpts...)

	treasury := bank.New()

	ledger := escrow.New(
		escrow.Config{LegacyTransferEvents: cfg.LegacyTransferEvents},
		treasury,
		httpInvoker,
		events.Multi{eventLog, bus},
	)
	if metricsSink != nil {
		ledger = ledger.WithMetrics(metricsSink)
	}
	if cfg.LegacyTransferEvents {
		log.Println("delayedjobs: legacy transfer events enabled")
	}

	writer := journal.New().WithDrainTimeout(cfg.JournalDrainTimeout)
	if store != nil {
		writer = writer.WithStore(store)
	}
	if metricsSink != nil {
		writer = writer.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		writer = writer.WithAnalytics(analytics.NewRedisSink(redisClient, cfg.AnalyticsRetention))
		log.Printf("delayedjobs: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("delayedjobs: REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(ledger, eventLog).WithFaucet(treasury)
	if store != nil {
		apiHandler = apiHandler.WithHealthChecker(store)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("delayedjobs: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("delayedjobs: http server error: %v", err)
		}
	}()

	// Separate contexts for the monitor and journal to enable ordered shutdown.
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	journalCtx, cancelJournal := context.WithCancel(context.Background())

	var monitorWg sync.WaitGroup
	var journalWg sync.WaitGroup

	if metricsSink != nil {
		mon := monitor.New(monitor.Config{Interval: cfg.MonitorInterval}, ledger, metricsSink)
		monitorWg.Add(1)
		go func() {
			defer monitorWg.Done()
			mon.Run(monitorCtx)
		}()
		log.Printf("delayedjobs: monitor started (interval=%s)", cfg.MonitorInterval)
	}

	journalWg.Add(1)
	go func() {
		defer journalWg.Done()
		writer.Run(journalCtx, bus.Channel())
	}()

	log.Printf("delayedjobs: started (http=%s)", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("delayedjobs: received signal %v, shutting down", received)

	// Phase 1: Stop the monitor (no new gauge sweeps)
	log.Println("delayedjobs: stopping monitor...")
	cancelMonitor()
	monitorWg.Wait()
	log.Println("delayedjobs: monitor stopped")

	// Phase 2: Stop HTTP server so no new events are produced
	log.Println("delayedjobs: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("delayedjobs: http server shutdown error: %v", err)
	}
	log.Println("delayedjobs: http server stopped")

	// Phase 3: Stop journal (will drain buffered events before returning)
	log.Println("delayedjobs: stopping journal (draining events)...")
	cancelJournal()
	journalWg.Wait()
	log.Println("delayedjobs: journal stopped")

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		log.Println("delayedjobs: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("delayedjobs: metrics server shutdown error: %v", err)
		}
		log.Println("delayedjobs: metrics server stopped")
	}

	log.Println("delayedjobs: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("delayedjobs version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
