package watcher

import (
	"context"
	"log/slog"
	"time"
)

// session is what the reconnect loop needs from a live connection: the watch
// cycle's operations plus teardown.
type session interface {
	mailbox
	Close()
}

// dial opens sessions for Run. Tests swap it to drive the loop without a
// server; everything else goes through dialSession.
var dial = func(cfg Config) (session, error) {
	return dialSession(cfg)
}

// Run watches the configured mailbox until ctx is cancelled. Every failure,
// whether the dial never succeeds or an established session dies mid-watch,
// is handled the same way: log it, wait one refresh interval, reconnect.
// There is deliberately no backoff and no retry cap; a wrong password keeps
// retrying until the operator reads the log.
func Run(ctx context.Context, cfg Config) error {
	notifier := NewNotifier(cfg)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watcher stopped")
			return nil
		default:
		}

		slog.Info("Connecting to IMAP server",
			"server", cfg.Server, "port", cfg.Port, "mailbox", cfg.Mailbox)

		sess, err := dial(cfg)
		if err != nil {
			slog.Error("Connection failed", "error", err)
			sleepCtx(ctx, cfg.RefreshRate)
			continue
		}

		slog.Info("Watching mailbox", "mailbox", cfg.Mailbox, "target_folder", cfg.TargetFolder)

		err = watchMailbox(ctx, sess, cfg, notifier)
		sess.Close()
		if err != nil {
			slog.Error("Session failed", "error", err)
			sleepCtx(ctx, cfg.RefreshRate)
			continue
		}

		// watchMailbox only returns cleanly on cancellation; the select at
		// the top of the loop turns that into a shutdown.
	}
}

// sleepCtx pauses for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
