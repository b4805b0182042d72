// Package logger provides structured logging for flowkit using zerolog.
//
// Every primitive accepts an optional *Logger; a nil logger is replaced by
// Nop(), so pipelines stay silent unless the host wires one in.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.NewDefault("checkout").WithComponent("retry")
//	log.WithExecution(ec).Warn("attempt failed", logger.Fields("attempt", 2))
package logger
