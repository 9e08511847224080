// Package flogger wires up zerolog the way the teacher's
// internal/pkg/logger does (console writer in development, leveled
// JSON otherwise), plus contextual helpers scoped to this runtime's
// own identifiers (execution_id, node_id, api_id) instead of the
// teacher's request/user/workspace/workflow ids.
package flogger

import (
	"os"

	"github.com/rs/zerolog"
)

// Init builds the base logger for the process.
func Init(environment string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	if environment == "development" {
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(consoleWriter).With().Timestamp().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// WithExecution scopes a logger to one flow invocation.
func WithExecution(log zerolog.Logger, executionID, apiID string) zerolog.Logger {
	return log.With().Str("execution_id", executionID).Str("api_id", apiID).Logger()
}

// WithNode further scopes a logger to one node within an execution.
func WithNode(log zerolog.Logger, nodeID, nodeType string) zerolog.Logger {
	return log.With().Str("node_id", nodeID).Str("node_type", nodeType).Logger()
}
