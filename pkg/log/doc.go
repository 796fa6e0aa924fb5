/*
Package log provides structured logging for devicehub using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable levels, and helper functions for
common logging patterns shared by the Hub, Device runtime, and Coordinator.

# Usage

	import "github.com/cuemby/devicehub/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("hub starting")

	hubLog := log.WithHubID("hub-1")
	hubLog.Info().Msg("device tree attached")

	deviceLog := log.WithDevice("boiler/pump-1")
	deviceLog.Error().Err(err).Msg("start failed")

	corrLog := log.WithCorrelation(string(corrID))
	corrLog.Debug().Msg("plan step executing")

# Log Output Examples

	{"level":"info","hub_id":"hub-1","time":"2026-01-01T00:00:00Z","message":"device tree attached"}
	{"level":"error","device":"boiler/pump-1","error":"connection refused","time":"2026-01-01T00:00:01Z","message":"start failed"}

# Integration Points

This package is used by pkg/hub, pkg/device, pkg/coordinator and
cmd/devicehubd.
*/
package log
