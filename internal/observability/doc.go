// Package observability provides structured logging and Prometheus metrics
// for the heroes resource server and its client.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - Prometheus counters for token verification, scope decisions and JWKS refreshes
//   - A no-op metrics sink for tests and METRICS_ENABLED=false
package observability
