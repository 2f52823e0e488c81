package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridata/fieldgate/pkg/api"
	"github.com/veridata/fieldgate/pkg/audit"
	"github.com/veridata/fieldgate/pkg/config"
	"github.com/veridata/fieldgate/pkg/engine"
	"github.com/veridata/fieldgate/pkg/observability"
	"github.com/veridata/fieldgate/pkg/policy"
	"github.com/veridata/fieldgate/pkg/storage"
)

var (
	policyPath   = flag.String("policy", "", "Path to a YAML policy table (overrides FIELDGATE_POLICY_PATH)")
	runRetention = flag.Bool("run-retention", false, "Run the audit retention job once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *policyPath != "" {
		cfg.Audit.PolicyPath = *policyPath
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	table := policy.Default()
	if cfg.Audit.PolicyPath != "" {
		table, err = policy.Load(cfg.Audit.PolicyPath)
		if err != nil {
			log.Fatalf("Failed to load policy table: %v", err)
		}
		logger.WithField("path", cfg.Audit.PolicyPath).Info("Loaded policy table")
	}

	// Record store. Postgres also carries the audit trail; the memory store
	// is for local development and has no durable trail.
	var store storage.RecordStore
	var db *sql.DB
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := storage.NewPostgresStore(cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		pg.DB().SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
		db = pg.DB()
		store = pg
		defer pg.Close()
	default:
		store = storage.NewMemoryStore()
	}

	var writers []audit.Writer
	var searcher audit.Searcher
	var dbWriter *audit.DBWriter
	if db != nil {
		dbWriter, err = audit.NewDBWriter(db)
		if err != nil {
			log.Fatalf("Failed to initialize audit trail: %v", err)
		}
		writers = append(writers, dbWriter)
		searcher = dbWriter
	}
	if cfg.Audit.FileEnabled {
		fileCfg := audit.DefaultFileWriterConfig()
		fileCfg.BasePath = cfg.Audit.FilePath
		fileWriter, err := audit.NewFileWriter(fileCfg)
		if err != nil {
			log.Fatalf("Failed to open audit log file: %v", err)
		}
		writers = append(writers, fileWriter)
	}

	var auditor audit.Writer
	switch len(writers) {
	case 0:
		logger.Warn("No audit sink configured, operations will not be recorded")
		auditor = audit.NewNopWriter()
	case 1:
		auditor = writers[0]
	default:
		auditor = audit.NewMultiWriter(writers...)
	}

	ctx := context.Background()

	var retentionJob *audit.RetentionJob
	if dbWriter != nil && cfg.Audit.RetentionDays > 0 {
		retentionPolicy := audit.RetentionPolicy{
			RetentionDays:  cfg.Audit.RetentionDays,
			ArchiveEnabled: cfg.Audit.ArchiveEnabled,
		}

		var archiver audit.Archiver
		if cfg.Audit.ArchiveEnabled {
			archiver, err = audit.NewS3Archiver(ctx, audit.S3Config{
				Bucket:       cfg.Audit.S3Bucket,
				Region:       cfg.Audit.S3Region,
				Prefix:       cfg.Audit.S3Prefix,
				Endpoint:     cfg.Audit.S3Endpoint,
				AccessKey:    cfg.Audit.S3AccessKey,
				SecretKey:    cfg.Audit.S3SecretKey,
				UsePathStyle: cfg.Audit.S3UsePathStyle,
			})
			if err != nil {
				log.Fatalf("Failed to initialize archive storage: %v", err)
			}
		}

		retentionJob = audit.NewRetentionJob(dbWriter, retentionPolicy, archiver, logger, metrics)

		if *runRetention {
			removed, err := retentionJob.RunOnce(ctx)
			if err != nil {
				log.Fatalf("Retention run failed: %v", err)
			}
			logger.WithField("removed", removed).Info("Retention run complete")
			return
		}

		if err := retentionJob.Start(cfg.Audit.RetentionSchedule); err != nil {
			log.Fatalf("Failed to schedule retention job: %v", err)
		}
		logger.WithField("schedule", cfg.Audit.RetentionSchedule).Info("Retention job scheduled")
	} else if *runRetention {
		log.Fatalf("Retention requires postgres storage and a positive FIELDGATE_AUDIT_RETENTION_DAYS")
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		if cfg.Cache.RedisPassword != "" {
			opts.Password = cfg.Cache.RedisPassword
		}
		if cfg.Cache.RedisDB != 0 {
			opts.DB = cfg.Cache.RedisDB
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithPreCreateCheck("lead",
			engine.DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)),
	}
	if cfg.Cache.Enabled {
		cache, err := engine.NewDecisionCache(engine.DecisionCacheConfig{
			Size:  cfg.Cache.Size,
			TTL:   cfg.Cache.TTL,
			Redis: redisClient,
		}, metrics)
		if err != nil {
			log.Fatalf("Failed to initialize decision cache: %v", err)
		}
		engineOpts = append(engineOpts, engine.WithDecisionCache(cache))
	}

	eng := engine.New(table, store, auditor, engineOpts...)

	apiServer := api.NewServer(eng, searcher,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
	)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if db != nil && metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				stats := db.Stats()
				metrics.CollectDBStats(stats.OpenConnections, stats.Idle)
			}
		}()
	}

	// Probes and metrics live on their own port so they stay reachable
	// behind gateways that only expose the API port.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server error")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if retentionJob != nil {
			retentionJob.Stop()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditor.Close()
	})

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"storage": cfg.Storage.Type,
		}).Info("fieldgate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
}
