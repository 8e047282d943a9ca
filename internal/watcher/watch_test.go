package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

// fakeMailbox scripts SearchUnseen responses and serves envelopes per scan,
// recording every call so tests can assert on the exact command sequence. It
// fails the test outright when an operation arrives with an identifier from
// an outdated generation.
type fakeMailbox struct {
	t *testing.T

	scans    []scanScript
	scanErr  error
	fetchErr error
	moveErr  error
	idleErr  error
	idleHook func()

	gen       uint64
	scanCalls int
	fetched   []uint32
	moved     []uint32
	idled     int
}

type scanScript struct {
	seqs      []uint32
	envelopes map[uint32]*imap.Envelope
}

func (f *fakeMailbox) SearchUnseen() ([]MessageID, error) {
	f.scanCalls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if f.scanCalls > len(f.scans) {
		return nil, nil
	}

	script := f.scans[f.scanCalls-1]
	ids := make([]MessageID, 0, len(script.seqs))
	for _, seq := range script.seqs {
		ids = append(ids, MessageID{Seq: seq, gen: f.gen})
	}
	return ids, nil
}

func (f *fakeMailbox) FetchEnvelope(id MessageID) (*imap.Envelope, error) {
	if id.gen != f.gen {
		f.t.Fatalf("FetchEnvelope with identifier from generation %d, mailbox is at %d", id.gen, f.gen)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetched = append(f.fetched, id.Seq)
	return f.scans[f.scanCalls-1].envelopes[id.Seq], nil
}

func (f *fakeMailbox) Move(id MessageID) error {
	if id.gen != f.gen {
		f.t.Fatalf("Move with identifier from generation %d, mailbox is at %d", id.gen, f.gen)
	}
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moved = append(f.moved, id.Seq)
	f.gen++
	return nil
}

func (f *fakeMailbox) IdleWait(ctx context.Context, timeout time.Duration) error {
	f.idled++
	if f.idleHook != nil {
		f.idleHook()
	}
	if f.idleErr != nil {
		return f.idleErr
	}
	return ctx.Err()
}

func makeEnvelope(sender, subject string, date time.Time) *imap.Envelope {
	return &imap.Envelope{
		Subject: subject,
		Date:    date,
		From: []*imap.Address{{
			PersonalName: sender,
			MailboxName:  "mailbox",
			HostName:     "example.org",
		}},
	}
}

// testConfig returns a valid config whose allow-lists live in a temp dir.
func testConfig(t *testing.T, senders, subjects []string) Config {
	t.Helper()

	dir := t.TempDir()
	cfg := validConfig()
	cfg.AllowedSendersFile = filepath.Join(dir, "senders.json")
	cfg.TriggerSubjectsFile = filepath.Join(dir, "subjects.json")
	writeList(t, cfg.AllowedSendersFile, senders)
	writeList(t, cfg.TriggerSubjectsFile, subjects)
	return cfg
}

func writeList(t *testing.T, path string, entries []string) {
	t.Helper()

	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("failed to marshal list: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// recordedNotifier replaces delivery with an in-memory record.
func recordedNotifier(cfg Config) (*Notifier, *[]string) {
	n := NewNotifier(cfg)
	calls := &[]string{}
	n.deliver = func(sender, subject string) {
		*calls = append(*calls, sender+"|"+subject)
	}
	return n, calls
}

func TestScanActsOnFirstMatchOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{{
			seqs: []uint32{1, 2},
			envelopes: map[uint32]*imap.Envelope{
				1: makeEnvelope("Mario's Pizza", "pizza delivery", fresh),
				2: makeEnvelope("Mario's Pizza", "pizza delivery", fresh),
			},
		}},
	}
	n, calls := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if !acted {
		t.Error("scanOnce reported no action, want one")
	}
	if !reflect.DeepEqual(f.moved, []uint32{1}) {
		t.Errorf("moved %v, want [1]", f.moved)
	}
	if !reflect.DeepEqual(f.fetched, []uint32{1}) {
		t.Errorf("fetched %v, want [1]; the rest of the batch is invalid after a move", f.fetched)
	}

	n.Wait()
	if want := []string{"Mario's Pizza|pizza delivery"}; !reflect.DeepEqual(*calls, want) {
		t.Errorf("notifications = %v, want %v", *calls, want)
	}
}

func TestWatchRescansAfterMove(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Old enough that no notification complicates the bookkeeping.
	stale := time.Now().Add(-time.Hour)

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{
			{
				seqs: []uint32{1, 2},
				envelopes: map[uint32]*imap.Envelope{
					1: makeEnvelope("Mario's Pizza", "pizza delivery", stale),
					2: makeEnvelope("Mario's Pizza", "pizza delivery", stale),
				},
			},
			{
				// After the first move the remaining message is renumbered.
				seqs: []uint32{1},
				envelopes: map[uint32]*imap.Envelope{
					1: makeEnvelope("Mario's Pizza", "pizza delivery", stale),
				},
			},
		},
		idleHook: cancel,
	}
	n, calls := recordedNotifier(cfg)

	if err := watchMailbox(ctx, f, cfg, n); err != nil {
		t.Fatalf("watchMailbox returned error: %v", err)
	}

	if !reflect.DeepEqual(f.moved, []uint32{1, 1}) {
		t.Errorf("moved %v, want [1 1]", f.moved)
	}
	if f.scanCalls != 3 {
		t.Errorf("scans = %d, want 3 (initial, after each move)", f.scanCalls)
	}
	if f.idled != 1 {
		t.Errorf("idle waits = %d, want 1", f.idled)
	}

	n.Wait()
	if len(*calls) != 0 {
		t.Errorf("notifications = %v, want none for stale matches", *calls)
	}
}

func TestWatchRescansAfterIdleTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Empty mailbox throughout; the second idle wait ends the test.
	f := &fakeMailbox{t: t}
	f.idleHook = func() {
		if f.idled == 2 {
			cancel()
		}
	}
	n, _ := recordedNotifier(cfg)

	if err := watchMailbox(ctx, f, cfg, n); err != nil {
		t.Fatalf("watchMailbox returned error: %v", err)
	}

	if f.scanCalls != 2 {
		t.Errorf("scans = %d, want 2 (one per idle timeout)", f.scanCalls)
	}
	if f.idled != 2 {
		t.Errorf("idle waits = %d, want 2", f.idled)
	}
}

func TestAllowListEditsApplyToNextScan(t *testing.T) {
	t.Parallel()

	// Start with an empty trigger list so nothing matches.
	cfg := testConfig(t, []string{"Mario's Pizza"}, nil)
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	envelopes := map[uint32]*imap.Envelope{
		1: makeEnvelope("Mario's Pizza", "pizza delivery", now.Add(-time.Minute)),
	}

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{
			{seqs: []uint32{1}, envelopes: envelopes},
			{seqs: []uint32{1}, envelopes: envelopes},
		},
	}
	n, _ := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if acted {
		t.Fatal("scanOnce acted although the trigger list was empty")
	}

	// The lists are re-read per decision, so an edit takes effect on the
	// very next scan without a restart.
	writeList(t, cfg.TriggerSubjectsFile, []string{"pizza delivery"})

	acted, err = scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if !acted {
		t.Error("scanOnce ignored the updated trigger list")
	}
	if !reflect.DeepEqual(f.moved, []uint32{1}) {
		t.Errorf("moved %v, want [1]", f.moved)
	}
	n.Wait()
}

func TestScanSkipsNonMatchingMessages(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{{
			seqs: []uint32{1, 2, 3},
			envelopes: map[uint32]*imap.Envelope{
				1: makeEnvelope("Stranger", "pizza delivery", fresh),
				2: makeEnvelope("Mario's Pizza", "monthly invoice", fresh),
				3: makeEnvelope("Mario's Pizza", "pizza delivery", fresh),
			},
		}},
	}
	n, _ := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if !acted {
		t.Error("scanOnce reported no action, want one")
	}
	if !reflect.DeepEqual(f.fetched, []uint32{1, 2, 3}) {
		t.Errorf("fetched %v, want [1 2 3]", f.fetched)
	}
	if !reflect.DeepEqual(f.moved, []uint32{3}) {
		t.Errorf("moved %v, want [3]", f.moved)
	}
	n.Wait()
}

func TestScanSkipsUnusableEnvelopes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{{
			seqs: []uint32{1, 2, 3, 4},
			// 1 is absent entirely, 2 has no sender and 3 no date.
			envelopes: map[uint32]*imap.Envelope{
				2: {Subject: "pizza delivery", Date: fresh},
				3: makeEnvelope("Mario's Pizza", "pizza delivery", time.Time{}),
				4: makeEnvelope("Mario's Pizza", "pizza delivery", fresh),
			},
		}},
	}
	n, _ := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if !acted {
		t.Error("scanOnce reported no action, want one")
	}
	if !reflect.DeepEqual(f.moved, []uint32{4}) {
		t.Errorf("moved %v, want [4]; malformed envelopes must be skipped, not moved", f.moved)
	}
	n.Wait()
}

func TestScanMovesStaleMatchWithoutNotification(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

	f := &fakeMailbox{
		t: t,
		scans: []scanScript{{
			seqs: []uint32{1},
			envelopes: map[uint32]*imap.Envelope{
				1: makeEnvelope("Mario's Pizza", "pizza delivery", now.Add(-time.Hour)),
			},
		}},
	}
	n, calls := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if !acted {
		t.Error("scanOnce reported no action; a stale match must still be moved")
	}
	if !reflect.DeepEqual(f.moved, []uint32{1}) {
		t.Errorf("moved %v, want [1]", f.moved)
	}

	n.Wait()
	if len(*calls) != 0 {
		t.Errorf("notifications = %v, want none", *calls)
	}
}

func TestScanSkipsWhenListsUnreadable(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	dir := t.TempDir()
	cfg.AllowedSendersFile = filepath.Join(dir, "missing_senders.json")
	cfg.TriggerSubjectsFile = filepath.Join(dir, "missing_subjects.json")

	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	f := &fakeMailbox{
		t: t,
		scans: []scanScript{{
			seqs: []uint32{1},
			envelopes: map[uint32]*imap.Envelope{
				1: makeEnvelope("Mario's Pizza", "pizza delivery", now.Add(-time.Minute)),
			},
		}},
	}
	n, _ := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, now)
	if err != nil {
		t.Fatalf("scanOnce returned error: %v; unreadable lists skip the message only", err)
	}
	if acted {
		t.Error("scanOnce acted although the allow-lists were unreadable")
	}
	if len(f.moved) != 0 {
		t.Errorf("moved %v, want none", f.moved)
	}
}

func TestScanWithNoUnseenMessages(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	f := &fakeMailbox{t: t, scans: []scanScript{{seqs: nil}}}
	n, _ := recordedNotifier(cfg)

	acted, err := scanOnce(f, cfg, n, time.Now())
	if err != nil {
		t.Fatalf("scanOnce returned error: %v", err)
	}
	if acted {
		t.Error("scanOnce acted on an empty mailbox")
	}
	if len(f.fetched) != 0 {
		t.Errorf("fetched %v, want none", f.fetched)
	}
}

func TestScanErrorPropagates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil, nil)
	scanErr := errors.New("search exploded")
	f := &fakeMailbox{t: t, scanErr: scanErr}
	n, _ := recordedNotifier(cfg)

	_, err := scanOnce(f, cfg, n, time.Now())
	if !errors.Is(err, scanErr) {
		t.Errorf("scanOnce error = %v, want wrapped %v", err, scanErr)
	}
}

func TestFetchErrorPropagates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil, nil)
	fetchErr := errors.New("fetch exploded")
	f := &fakeMailbox{
		t:        t,
		fetchErr: fetchErr,
		scans:    []scanScript{{seqs: []uint32{1}}},
	}
	n, _ := recordedNotifier(cfg)

	_, err := scanOnce(f, cfg, n, time.Now())
	if !errors.Is(err, fetchErr) {
		t.Errorf("scanOnce error = %v, want wrapped %v", err, fetchErr)
	}
}

func TestMoveErrorPropagates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, []string{"Mario's Pizza"}, []string{"pizza delivery"})
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	moveErr := errors.New("copy rejected")
	f := &fakeMailbox{
		t:       t,
		moveErr: moveErr,
		scans: []scanScript{{
			seqs: []uint32{1},
			envelopes: map[uint32]*imap.Envelope{
				1: makeEnvelope("Mario's Pizza", "pizza delivery", now.Add(-time.Minute)),
			},
		}},
	}
	n, calls := recordedNotifier(cfg)

	_, err := scanOnce(f, cfg, n, now)
	if !errors.Is(err, moveErr) {
		t.Errorf("scanOnce error = %v, want wrapped %v", err, moveErr)
	}

	n.Wait()
	if len(*calls) != 0 {
		t.Errorf("notifications = %v, want none when the move failed", *calls)
	}
}

func TestWatchIdleErrorEndsSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil, nil)
	idleErr := errors.New("connection reset")
	f := &fakeMailbox{t: t, idleErr: idleErr}
	n, _ := recordedNotifier(cfg)

	err := watchMailbox(context.Background(), f, cfg, n)
	if !errors.Is(err, idleErr) {
		t.Errorf("watchMailbox error = %v, want wrapped %v", err, idleErr)
	}
}

func TestWatchStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeMailbox{t: t}
	n, _ := recordedNotifier(cfg)

	if err := watchMailbox(ctx, f, cfg, n); err != nil {
		t.Errorf("watchMailbox after cancellation = %v, want nil", err)
	}
	if f.scanCalls != 0 {
		t.Errorf("scans = %d, want 0 after cancellation", f.scanCalls)
	}
}
