// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Request-scoped context:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize and record:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.RecordDenial("student", "update")
//	metrics.RecordAuditWriteFailure()
//
// All recording methods are nil-receiver safe so code paths stay unmetered
// in tests without conditionals.
//
// # Health Checks
//
// NewHealthChecker probes the database and Redis; RegisterHealthRoutes wires
// /health, /health/live and /health/ready.
package observability
