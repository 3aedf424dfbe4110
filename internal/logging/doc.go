// Package logging configures log/slog with a level per module.
//
// Each package asks for its own logger:
//
//	logger := logging.GetLogger("pipeline").With("track", "video")
//	logger.Info("Encoder started", "encoder", name)
//
// Records go to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory history served by the API.
//
// Levels come from the [logging] table of the configuration file. Keys
// other than level and format name a module:
//
//	[logging]
//	level = "info"
//	format = "text"
//	pipeline = "debug"
//	ffmpeg = "warn"
//
// SetLevels applies new levels to loggers already handed out, so the
// configuration watcher can change verbosity without a restart.
//
// Journal entries carry SYSLOG_IDENTIFIER=avrec and one field per
// attribute:
//
//	journalctl -t avrec MODULE=mux
//	journalctl -t avrec SESSION_ID=0b7c...
package logging
