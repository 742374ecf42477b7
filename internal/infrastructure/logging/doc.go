// Package logging wraps uber/zap with the two modes this service runs in:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Components take an injected *Logger and derive named sub-loggers with
// Named. Tests use Nop.
//
// Example:
//
//	logger := logging.NewDefault()
//	logger.Info("server starting", zap.String("port", "8000"))
package logging
