package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
)

// mailbox is the slice of Session the watch cycle needs, narrowed to an
// interface so the cycle is testable without a live server.
type mailbox interface {
	SearchUnseen() ([]MessageID, error)
	FetchEnvelope(id MessageID) (*imap.Envelope, error)
	Move(id MessageID) error
	IdleWait(ctx context.Context, timeout time.Duration) error
}

// watchMailbox drives one session's scan/classify/act/idle cycle until the
// session fails or ctx is cancelled. A nil return means cancellation; any
// error means the session is unusable and the caller should reconnect.
func watchMailbox(ctx context.Context, mb mailbox, cfg Config, notifier *Notifier) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		acted, err := scanOnce(mb, cfg, notifier, time.Now())
		if err != nil {
			return err
		}
		if acted {
			// The move renumbered the mailbox; scan again right away instead
			// of touching the rest of the stale batch.
			continue
		}

		if err := mb.IdleWait(ctx, cfg.RefreshRate); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed waiting for mailbox changes: %w", err)
		}
	}
}

// scanOnce walks the current unseen messages in server order and acts on the
// first match. It reports whether an action was taken, in which case every
// identifier from this scan is dead and the caller must re-scan before
// touching another message.
func scanOnce(mb mailbox, cfg Config, notifier *Notifier, now time.Time) (bool, error) {
	ids, err := mb.SearchUnseen()
	if err != nil {
		return false, fmt.Errorf("failed to scan for unseen messages: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}

	slog.Debug("Scanning unseen messages", "count", len(ids))

	for _, id := range ids {
		env, err := mb.FetchEnvelope(id)
		if err != nil {
			return false, fmt.Errorf("failed to fetch envelope: %w", err)
		}

		cand, err := newCandidate(id, env)
		if err != nil {
			slog.Warn("Skipping message with unusable envelope", "seq", id.Seq, "error", err)
			continue
		}

		lists, err := LoadAllowLists(cfg.AllowedSendersFile, cfg.TriggerSubjectsFile)
		if err != nil {
			slog.Warn("Skipping message, allow-lists unreadable", "seq", id.Seq, "error", err)
			continue
		}

		res := Classify(cand, lists, now, cfg.MailExpiration)
		slog.Debug("Classified message",
			"seq", id.Seq,
			"sender", cand.Sender,
			"subject", cand.Subject,
			"allowed", res.Allowed,
			"triggering", res.Triggering,
			"stale", res.Stale)

		if !res.Matched() {
			continue
		}

		if err := dispatch(mb, cand, res, notifier); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}
