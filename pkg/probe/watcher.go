package probe

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claudeck/claudeck/internal/logger"
)

// writeSettleDelay debounces bursts of writes: the CLI appends records in
// chunks, and parsing mid-burst reads torn lines.
const writeSettleDelay = 50 * time.Millisecond

// logWatcher follows one session's per-project log file. Strictly one per
// session; the probe reuses it across metadata requests.
type logWatcher struct {
	sessionID string
	path      string
	cancel    context.CancelFunc
	done      chan struct{}
}

// newLogWatcher starts watching path and delivers a snapshot through emit
// after each settled write. Errors close the watcher; the poll path retries
// on its next tick.
func (p *Probe) newLogWatcher(sessionID, path string) (*logWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lw := &logWatcher{
		sessionID: sessionID,
		path:      path,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(lw.done)
		defer func() { _ = w.Close() }()

		var settle *time.Timer
		var settleC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					if settle == nil {
						settle = time.NewTimer(writeSettleDelay)
						settleC = settle.C
					} else {
						settle.Reset(writeSettleDelay)
					}
				}

			case <-settleC:
				settle = nil
				settleC = nil
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("failed to read session log",
						logger.KeySessionID, sessionID, logger.KeyError, err)
					continue
				}
				snap, err := parseLastLogRecord(sessionID, data)
				if err != nil {
					continue
				}
				p.publish(ctx, snap)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("session log watcher error, closing",
					logger.KeySessionID, sessionID, logger.KeyError, err)
				return
			}
		}
	}()

	return lw, nil
}

func (lw *logWatcher) stop() {
	lw.cancel()
	<-lw.done
}
