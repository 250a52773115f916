package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all log statements so logs aggregate and query cleanly.
const (
	// Session control plane
	KeySessionID  = "session_id"  // terminal session identifier (tmux window name)
	KeyClientID   = "client_id"   // websocket client identifier
	KeyRole       = "role"        // attachment role: master, reader
	KeyProject    = "project"     // human project name
	KeyPath       = "path"        // filesystem path
	KeySource     = "source"      // metadata source: structured-cli, log-file, global-stats, screen-scrape
	KeySubscriber = "subscriber"  // hub subscriber id
	KeyAction     = "action"      // audit action tag
	KeyResource   = "resource"    // audit resource kind

	// Client identification
	KeyClientIP  = "client_ip"
	KeyUsername  = "username"
	KeyUserID    = "user_id"
	KeyRequestID = "request_id"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeySize       = "size"
	KeyStatus     = "status"
)

// SessionID returns a slog.Attr for a terminal session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// ClientID returns a slog.Attr for a websocket client identifier.
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// ClientIP returns a slog.Attr for a client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Username returns a slog.Attr for a username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Path returns a slog.Attr for a filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Source returns a slog.Attr for a metadata source tag.
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
