// Package logger provides structured logging for tickstream built on zerolog.
//
// A single global logger is initialized at startup from configuration;
// subsystems derive component-tagged loggers from it:
//
//	log := logger.WithComponent("poller")
//	log.Info("cycle complete", logger.Fields("partitions", 12))
package logger
