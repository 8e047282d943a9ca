package watcher

import (
	"fmt"
	"log/slog"
)

// dispatch performs the reaction to a matched message: relocate it, then
// notify unless the message went stale while nobody was watching. A failed
// move poisons the session; notification failures never surface here.
func dispatch(mb mailbox, cand Candidate, res Result, notifier *Notifier) error {
	slog.Info("Matched message",
		"seq", cand.ID.Seq,
		"sender", cand.Sender,
		"subject", cand.Subject,
		"stale", res.Stale)

	if err := mb.Move(cand.ID); err != nil {
		return fmt.Errorf("failed to move message %d: %w", cand.ID.Seq, err)
	}

	if res.Stale {
		slog.Info("Message past expiration, moved without notification",
			"seq", cand.ID.Seq, "date", cand.Date)
		return nil
	}

	notifier.Notify(cand.Sender, cand.Subject)
	return nil
}
