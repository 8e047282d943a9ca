package watcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// errStaleID marks an operation attempted with a message identifier from an
// earlier scan generation. The batch it came from is no longer valid and the
// caller must re-scan.
var errStaleID = errors.New("stale message identifier")

// MessageID names one message within a session. The sequence number is only
// meaningful for the generation it was issued under; any operation that
// removes messages bumps the generation and invalidates older identifiers.
type MessageID struct {
	Seq uint32
	gen uint64
}

// Session is an authenticated IMAP connection with one selected mailbox. It
// is owned by a single goroutine and discarded after any protocol error;
// there is no per-command recovery.
type Session struct {
	c       *client.Client
	updates chan client.Update
	target  string
	gen     uint64
}

// dialSession connects to the configured server, authenticates, and selects
// the watched mailbox.
func dialSession(cfg Config) (*Session, error) {
	address := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)

	// ServerName pins certificate validation to the configured host.
	tlsConfig := &tls.Config{
		ServerName: cfg.Server,
	}

	c, err := client.DialTLS(address, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	// Read-write select: moving a message needs \Deleted and EXPUNGE.
	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", cfg.Mailbox, err)
	}

	// Once Updates is set the client blocks whenever the channel is full, so
	// it is buffered and drained before every scan and every idle.
	updates := make(chan client.Update, 64)
	c.Updates = updates

	return &Session{
		c:       c,
		updates: updates,
		target:  cfg.TargetFolder,
		gen:     1,
	}, nil
}

// Close logs out. The session must not be used afterwards.
func (s *Session) Close() {
	if err := s.c.Logout(); err != nil {
		slog.Debug("Logout failed", "error", err)
	}
}

// SearchUnseen returns identifiers for every message not flagged \Seen, in
// mailbox order, tagged with the current generation.
func (s *Session) SearchUnseen() ([]MessageID, error) {
	// Clear the update backlog first; the scan below observes whatever the
	// updates announced. Left queued over a long scan/move streak, the
	// buffer fills and the client's reader stalls on it.
	s.drainUpdates()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	seqs, err := s.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search for unseen messages: %w", err)
	}

	ids := make([]MessageID, 0, len(seqs))
	for _, seq := range seqs {
		ids = append(ids, MessageID{Seq: seq, gen: s.gen})
	}
	return ids, nil
}

// FetchEnvelope retrieves the envelope of a single message. A nil envelope
// with a nil error means the server returned no data for the message; only
// protocol failures are errors.
func (s *Session) FetchEnvelope(id MessageID) (*imap.Envelope, error) {
	if id.gen != s.gen {
		return nil, errStaleID
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(id.Seq)

	// Consume responses while the command runs; a concurrent session's flag
	// change can surface as an extra FETCH response for the same message
	// mid-command.
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var env *imap.Envelope
	for msg := range messages {
		if env == nil && msg != nil {
			env = msg.Envelope
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch envelope of message %d: %w", id.Seq, err)
	}
	return env, nil
}

// Move relocates a message into the session's target folder: copy, flag
// \Deleted, expunge. The three steps form one action; if any fails the
// session is no longer trustworthy. On success the generation is bumped,
// because the expunge renumbered everything behind the message.
func (s *Session) Move(id MessageID) error {
	if id.gen != s.gen {
		return errStaleID
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(id.Seq)

	if err := s.c.Copy(seqset, s.target); err != nil {
		return fmt.Errorf("failed to copy message %d to %s: %w", id.Seq, s.target, err)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []any{imap.DeletedFlag}
	if err := s.c.Store(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("failed to flag message %d as deleted: %w", id.Seq, err)
	}

	// Expunge emits one untagged response per removed message; stream them
	// through a drained channel so they cannot back up the updates buffer
	// mid-command.
	expunged := make(chan uint32, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.c.Expunge(expunged)
	}()
	for range expunged {
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	s.gen++
	slog.Debug("Moved message", "seq", id.Seq, "target", s.target)
	return nil
}

// IdleWait blocks until the server pushes an update for the mailbox, the
// timeout elapses, or ctx is cancelled. A nil return means the caller should
// scan again; which of the wake-up reasons fired is deliberately not
// reported. Servers without IDLE are polled at the timeout interval instead.
func (s *Session) IdleWait(ctx context.Context, timeout time.Duration) error {
	// Updates queued while commands ran describe state the next scan will
	// observe anyway.
	s.drainUpdates()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(s.c).IdleWithFallback(stop, timeout)
	}()

	stopIdle := func() error {
		close(stop)
		return <-done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = stopIdle()
		return ctx.Err()

	case err := <-done:
		if err != nil {
			return fmt.Errorf("idle failed: %w", err)
		}
		return nil

	case <-timer.C:
		if err := stopIdle(); err != nil {
			return fmt.Errorf("failed to stop idle: %w", err)
		}
		return nil

	case update := <-s.updates:
		if u, ok := update.(*client.MailboxUpdate); ok {
			slog.Debug("Mailbox update received", "exists", u.Mailbox.Messages, "recent", u.Mailbox.Recent)
		}
		if err := stopIdle(); err != nil {
			return fmt.Errorf("failed to stop idle: %w", err)
		}
		return nil
	}
}

func (s *Session) drainUpdates() {
	for {
		select {
		case <-s.updates:
		default:
			return
		}
	}
}
