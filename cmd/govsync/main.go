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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/govsync/internal/analytics"
	"github.com/djlord-it/govsync/internal/api"
	"github.com/djlord-it/govsync/internal/circuitbreaker"
	"github.com/djlord-it/govsync/internal/config"
	"github.com/djlord-it/govsync/internal/engine"
	"github.com/djlord-it/govsync/internal/ledger"
	"github.com/djlord-it/govsync/internal/leaderelection"
	"github.com/djlord-it/govsync/internal/metrics"
	"github.com/djlord-it/govsync/internal/scheduler"
	"github.com/djlord-it/govsync/internal/store/postgres"

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
	fmt.Println(`govsync - governance automation reconciliation engine

Usage:
  govsync <command>

Commands:
  serve      Start the reconciliation engine and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  REDIS_ADDR                 Redis address for rule-hit analytics (optional)
  HTTP_ADDR                  HTTP server address (default: ":8080")

  RUN_SCHEDULE               Cron expression for scheduled runs (default: "*/30 * * * *")
  SCHEDULE_TIMEZONE          Timezone for the run schedule (default: "UTC")
  SCHEDULER_ENABLED          Enable the scheduled trigger (default: "true")

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_ADDR               Metrics server address (default: ":9090")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")

  CIRCUIT_BREAKER_THRESHOLD  Consecutive target failures before pausing ("0" disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Pause duration before probing again (default: "2m")

  LEADER_ELECTION_ENABLED    Gate the scheduled trigger behind an advisory lock (default: "false")
  LEADER_LOCK_KEY            Advisory lock key shared by all instances (default: "493817")
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection health check interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("govsync: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("govsync: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("govsync: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("govsync: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("govsync: METRICS_ENABLED not set; metrics disabled")
	}

	sources := engine.Sources{
		Contracts:       store,
		Licenses:        store,
		Policies:        store,
		Vulnerabilities: store,
	}
	targets := engine.Targets{
		Risks:    store,
		Tickets:  store,
		Findings: store,
		Changes:  store,
	}

	eng := engine.New(store, sources, targets)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		eng = eng.WithBreaker(breaker)
		log.Printf("govsync: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("govsync: CIRCUIT_BREAKER_THRESHOLD is 0; circuit breaker disabled")
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		eng = eng.WithAnalytics(sink)
		log.Printf("govsync: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("govsync: REDIS_ADDR not set; analytics disabled")
	}

	led := ledger.New(store)
	apiHandler := api.NewHandler(eng, led).WithHealthChecker(db)

	// Start HTTP server with API handler
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("govsync: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("govsync: http server error: %v", err)
		}
	}()

	// Separate contexts for the scheduler and elector enable ordered shutdown.
	var schedulerWg sync.WaitGroup
	var electorWg sync.WaitGroup
	var cancelScheduler context.CancelFunc
	var cancelElector context.CancelFunc

	if cfg.SchedulerEnabled {
		sched, err := scheduler.New(
			scheduler.Config{Expression: cfg.RunSchedule, Timezone: cfg.ScheduleTimezone},
			eng,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build scheduler: %v\n", err)
			return exitRuntimeError
		}

		if cfg.LeaderElectionEnabled {
			// The elector owns the scheduler lifecycle: the scheduler runs only
			// while this instance holds the advisory lock.
			var schedWg sync.WaitGroup
			elector := leaderelection.New(
				db,
				cfg.LeaderLockKey,
				cfg.LeaderRetryInterval,
				cfg.LeaderHeartbeatInterval,
				func(leaderCtx context.Context) {
					schedWg.Add(1)
					defer schedWg.Done()
					sched.Run(leaderCtx)
				},
				func() {
					schedWg.Wait()
				},
			)

			var electorCtx context.Context
			electorCtx, cancelElector = context.WithCancel(context.Background())
			electorWg.Add(1)
			go func() {
				defer electorWg.Done()
				elector.Run(electorCtx)
			}()
			log.Printf("govsync: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
		} else {
			var schedulerCtx context.Context
			schedulerCtx, cancelScheduler = context.WithCancel(context.Background())
			schedulerWg.Add(1)
			go func() {
				defer schedulerWg.Done()
				sched.Run(schedulerCtx)
			}()
		}
		log.Printf("govsync: scheduler enabled (schedule=%q, timezone=%s)", cfg.RunSchedule, cfg.ScheduleTimezone)
	} else {
		log.Println("govsync: SCHEDULER_ENABLED is false; manual triggers only")
	}

	log.Printf("govsync: started (http=%s)", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("govsync: received signal %v, shutting down", received)

	// Phase 1: Stop the scheduled trigger (no new runs started)
	if cancelElector != nil {
		log.Println("govsync: stopping leader elector...")
		cancelElector()
		electorWg.Wait()
		log.Println("govsync: leader elector stopped")
	}
	if cancelScheduler != nil {
		log.Println("govsync: stopping scheduler...")
		cancelScheduler()
		schedulerWg.Wait()
		log.Println("govsync: scheduler stopped")
	}

	// Phase 2: Stop HTTP server with graceful shutdown. An in-flight manual
	// run finishes within the shutdown window because POST /automation/run
	// is synchronous.
	log.Println("govsync: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("govsync: http server shutdown error: %v", err)
	}
	log.Println("govsync: http server stopped")

	// Phase 3: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("govsync: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("govsync: metrics server shutdown error: %v", err)
		}
		log.Println("govsync: metrics server stopped")
	}

	log.Println("govsync: stopped")
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
	fmt.Printf("govsync version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
