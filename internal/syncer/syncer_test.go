package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/meetsync/internal/fireflies"
	"github.com/agentworkforce/meetsync/internal/ledger"
	"github.com/agentworkforce/meetsync/internal/notify"
	"github.com/agentworkforce/meetsync/internal/vault"
)

type fakeSource struct {
	mu       sync.Mutex
	listed   []fireflies.MeetingSummary
	listErr  error
	details  map[string]*fireflies.MeetingDetail
	errs     map[string]error
	fetched  []string
	onFetch  func(id string)
	listCall atomic.Int32
	getCalls atomic.Int32
	batch    atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		details: map[string]*fireflies.MeetingDetail{},
		errs:    map[string]error{},
	}
}

func (f *fakeSource) add(d *fireflies.MeetingDetail) {
	f.listed = append(f.listed, d.MeetingSummary)
	f.details[d.ID] = d
}

func (f *fakeSource) ListSince(_ context.Context, _ time.Time, _ *time.Time, _ int) ([]fireflies.MeetingSummary, error) {
	f.listCall.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]fireflies.MeetingSummary(nil), f.listed...), nil
}

func (f *fakeSource) GetDetailIfReady(_ context.Context, id string) (*fireflies.MeetingDetail, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	onFetch := f.onFetch
	f.mu.Unlock()
	if onFetch != nil {
		onFetch(id)
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	d, ok := f.details[id]
	if !ok {
		return nil, &fireflies.APIError{Code: fireflies.CodeObjectNotFound}
	}
	if !d.Ready() {
		return nil, nil
	}
	return d, nil
}

func (f *fakeSource) GetDetailsBatch(_ context.Context, ids []string) []fireflies.MeetingDetail {
	f.batch.Add(1)
	out := make([]fireflies.MeetingDetail, 0, len(ids))
	for _, id := range ids {
		if d, ok := f.details[id]; ok && f.errs[id] == nil {
			out = append(out, *d)
		}
	}
	return out
}

func meeting(id, title string, status fireflies.SummaryStatus, start time.Time) *fireflies.MeetingDetail {
	return &fireflies.MeetingDetail{
		MeetingSummary: fireflies.MeetingSummary{
			ID:             id,
			Title:          title,
			Date:           fireflies.Timestamp{Time: start},
			Duration:       1800,
			OrganizerEmail: "alice@acme.com",
		},
		Info: fireflies.MeetingInfo{SummaryStatus: status, RawStatus: string(status)},
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	synced  []notify.MeetingNote
	batches []notify.Batch
	errors  []string
}

func (n *recordingNotifier) MeetingSynced(note notify.MeetingNote) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.synced = append(n.synced, note)
}

func (n *recordingNotifier) BatchSummary(b notify.Batch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, b)
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

type failingWriter struct {
	inner  NoteWriter
	failOn map[string]error
	panics map[string]bool
}

func (w *failingWriter) CreateNote(d *fireflies.MeetingDetail) (string, error) {
	if w.panics[d.ID] {
		panic("renderer exploded")
	}
	if err := w.failOn[d.ID]; err != nil {
		return "", err
	}
	return w.inner.CreateNote(d)
}

type failingLedger struct {
	*ledger.Ledger
	markErr error
}

func (l *failingLedger) MarkProcessed(string) error {
	return l.markErr
}

type harness struct {
	source   *fakeSource
	ledger   *ledger.Ledger
	writer   *vault.Writer
	notifier *recordingNotifier
	root     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	l, err := ledger.New(ledger.NewInMemoryBackend(), ledger.Options{})
	require.NoError(t, err)
	w, err := vault.NewWriter(vault.WriterOptions{VaultPath: root})
	require.NoError(t, err)
	return &harness{
		source:   newFakeSource(),
		ledger:   l,
		writer:   w,
		notifier: &recordingNotifier{},
		root:     root,
	}
}

func (h *harness) syncer(t *testing.T, opts Options) *Syncer {
	t.Helper()
	opts.Notifier = h.notifier
	s, err := NewSyncer(h.source, h.ledger, h.writer, opts)
	require.NoError(t, err)
	return s
}

func notesIn(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, vault.DefaultFolder, "*.md"))
	require.NoError(t, err)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names
}

func TestRunOnceSyncsReadyMeeting(t *testing.T) {
	h := newHarness(t)
	h.source.add(meeting("abc123", "Weekly Sync", fireflies.StatusProcessed, time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)))
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Candidates)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 0, res.Errors)
	require.True(t, res.OK())
	require.NotEmpty(t, res.RunID)

	require.Equal(t, []string{"2024-06-15-14-30-Weekly-Sync.md"}, notesIn(t, h.root))
	require.True(t, h.ledger.IsProcessed("abc123"))
	require.Len(t, h.notifier.synced, 1)
	require.Equal(t, "abc123", h.notifier.synced[0].ID)
	require.Equal(t, filepath.Join(h.root, vault.DefaultFolder, "2024-06-15-14-30-Weekly-Sync.md"), h.notifier.synced[0].Path)
	require.Equal(t, []notify.Batch{{RunID: res.RunID, Processed: 1}}, h.notifier.batches)

	last, ok := s.LastResult()
	require.True(t, ok)
	require.Equal(t, res.RunID, last.RunID)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.source.add(meeting("abc123", "Weekly Sync", fireflies.StatusProcessed, time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)))
	s := h.syncer(t, Options{})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	fetchesAfterFirst := h.source.getCalls.Load()

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.AlreadyKnown)
	require.Equal(t, 0, res.Processed)
	require.Equal(t, fetchesAfterFirst, h.source.getCalls.Load(), "known meetings must not be fetched again")
	require.Len(t, notesIn(t, h.root), 1)
	require.Len(t, h.notifier.batches, 1, "a run with nothing to do sends no summary")
}

func TestRunOnceLeavesUnfinishedMeetingsForLater(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	pending := meeting("m1", "Standup", fireflies.StatusProcessing, start)
	h.source.add(pending)
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.NotReady)
	require.Equal(t, 0, res.Processed)
	require.False(t, h.ledger.IsProcessed("m1"))
	require.Empty(t, notesIn(t, h.root))
	require.Empty(t, h.notifier.batches)

	pending.Info = fireflies.MeetingInfo{SummaryStatus: fireflies.StatusProcessed, RawStatus: "processed"}
	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.True(t, h.ledger.IsProcessed("m1"))
}

func TestRunOnceIsolatesPerMeetingFailures(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		h.source.add(meeting(id, "Meeting "+id, fireflies.StatusProcessed, start.Add(time.Duration(i)*time.Hour)))
	}
	writer := &failingWriter{inner: h.writer, failOn: map[string]error{"m3": errors.New("disk full")}}
	s, err := NewSyncer(h.source, h.ledger, writer, Options{Notifier: h.notifier})
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, res.Processed)
	require.Equal(t, 1, res.Errors)
	require.False(t, res.OK())
	require.Equal(t, []Failure{{ID: "m3", Stage: "write", Error: "disk full"}}, res.Failures)
	require.Equal(t, []string{"m1", "m2", "m4", "m5"}, h.ledger.ProcessedIDs())
	require.Len(t, notesIn(t, h.root), 4)
	require.Equal(t, []notify.Batch{{RunID: res.RunID, Processed: 4, Errors: 1}}, h.notifier.batches)
}

func TestRunOnceRecoversFromWriterPanic(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	h.source.add(meeting("boom", "Boom", fireflies.StatusProcessed, start))
	h.source.add(meeting("fine", "Fine", fireflies.StatusProcessed, start.Add(time.Hour)))
	writer := &failingWriter{inner: h.writer, panics: map[string]bool{"boom": true}}
	s, err := NewSyncer(h.source, h.ledger, writer, Options{})
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Errors)
	require.Contains(t, res.Failures[0].Error, "panicked")
	require.False(t, h.ledger.IsProcessed("boom"))
}

func TestRunOnceCountsFetchErrors(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	h.source.add(meeting("m1", "One", fireflies.StatusProcessed, start))
	h.source.add(meeting("m2", "Two", fireflies.StatusProcessed, start.Add(time.Hour)))
	h.source.errs["m1"] = &fireflies.APIError{Code: fireflies.CodeTooManyRequests, Err: fireflies.ErrRateLimited}
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Errors)
	require.Equal(t, "fetch", res.Failures[0].Stage)
	require.False(t, h.ledger.IsProcessed("m1"))
}

func TestRunOnceReturnsDiscoveryError(t *testing.T) {
	h := newHarness(t)
	h.source.listErr = &fireflies.APIError{Code: fireflies.CodeForbidden, Err: fireflies.ErrForbidden}
	s := h.syncer(t, Options{})

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, fireflies.ErrForbidden)
	require.Zero(t, h.source.getCalls.Load())
}

func TestRunOnceSkipsListedMeetingsWithoutID(t *testing.T) {
	h := newHarness(t)
	h.source.listed = []fireflies.MeetingSummary{{ID: "  ", Title: "ghost"}}
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Candidates)
	require.Zero(t, h.source.getCalls.Load())
}

func TestRunOnceCollapsesDuplicateListings(t *testing.T) {
	h := newHarness(t)
	d := meeting("dup", "Twice", fireflies.StatusProcessed, time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC))
	h.source.add(d)
	h.source.listed = append(h.source.listed, d.MeetingSummary)
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Candidates)
	require.Equal(t, 1, res.Processed)
	require.Len(t, notesIn(t, h.root), 1)
}

func TestLedgerWriteFailureStillCountsAsProcessed(t *testing.T) {
	h := newHarness(t)
	h.source.add(meeting("abc123", "Weekly Sync", fireflies.StatusProcessed, time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)))
	var logs logBuffer
	led := &failingLedger{Ledger: h.ledger, markErr: errors.New("read-only filesystem")}
	s, err := NewSyncer(h.source, led, h.writer, Options{Logger: &logs})
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 0, res.Errors)
	require.Len(t, notesIn(t, h.root), 1)
	require.True(t, logs.contains("recording meeting abc123 as synced"))
}

func TestRunTargetedNeverFetchesKnownMeetings(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.MarkProcessed("known"))
	h.source.details["fresh"] = meeting("fresh", "Fresh", fireflies.StatusProcessed, time.Date(2024, 6, 12, 8, 0, 0, 0, time.UTC))
	s := h.syncer(t, Options{})

	res, err := s.RunTargeted(context.Background(), []string{" known ", "fresh", ""})
	require.NoError(t, err)
	require.True(t, res.Targeted)
	require.Equal(t, 2, res.Candidates)
	require.Equal(t, 1, res.AlreadyKnown)
	require.Equal(t, 1, res.Processed)
	require.Zero(t, h.source.listCall.Load(), "targeted runs skip discovery")
	require.Equal(t, []string{"fresh"}, h.source.fetched)
}

func TestRunTargetedUnknownMeetingIsAnError(t *testing.T) {
	h := newHarness(t)
	s := h.syncer(t, Options{})

	res, err := s.RunTargeted(context.Background(), []string{"missing"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Errors)
	require.False(t, res.OK())
}

func TestDryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	h.source.add(meeting("ready", "Ready", fireflies.StatusProcessed, start))
	h.source.add(meeting("busy", "Busy", fireflies.StatusProcessing, start.Add(time.Hour)))
	s, err := NewSyncer(h.source, h.ledger, nil, Options{DryRun: true, Notifier: h.notifier})
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, []string{"ready"}, res.Pending)
	require.Equal(t, 1, res.NotReady)
	require.Zero(t, res.Processed)
	require.EqualValues(t, 1, h.source.batch.Load())
	require.Zero(t, h.source.getCalls.Load())
	require.Empty(t, h.ledger.ProcessedIDs())
	require.Empty(t, notesIn(t, h.root))
	require.Empty(t, h.notifier.batches)
}

func TestNewSyncerRequiresWriterOutsideDryRun(t *testing.T) {
	h := newHarness(t)
	_, err := NewSyncer(h.source, h.ledger, nil, Options{})
	require.Error(t, err)
	_, err = NewSyncer(nil, h.ledger, h.writer, Options{})
	require.Error(t, err)
	_, err = NewSyncer(h.source, nil, h.writer, Options{})
	require.Error(t, err)
}

func TestCancellationStopsBetweenMeetings(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		h.source.add(meeting(id, "Meeting "+id, fireflies.StatusProcessed, start.Add(time.Duration(i)*time.Hour)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel while the first meeting is in flight; it must still finish.
	h.source.onFetch = func(id string) {
		if id == "m1" {
			cancel()
		}
	}
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, []string{"m1"}, h.ledger.ProcessedIDs())
	require.Equal(t, []string{"m1"}, h.source.fetched)
}

func TestRunOnceUsesLookbackWindow(t *testing.T) {
	h := newHarness(t)
	var gotFrom time.Time
	src := &windowSource{fakeSource: h.source, from: &gotFrom}
	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	s, err := NewSyncer(src, h.ledger, h.writer, Options{LookbackDays: 3})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, now.AddDate(0, 0, -3), gotFrom)
}

type windowSource struct {
	*fakeSource
	from *time.Time
}

func (w *windowSource) ListSince(ctx context.Context, from time.Time, to *time.Time, pageSize int) ([]fireflies.MeetingSummary, error) {
	*w.from = from
	return w.fakeSource.ListSince(ctx, from, to, pageSize)
}

type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *logBuffer) Printf(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *logBuffer) contains(substr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range b.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestNotesAreWrittenWithReadablePermissions(t *testing.T) {
	h := newHarness(t)
	h.source.add(meeting("abc123", "Weekly Sync", fireflies.StatusProcessed, time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)))
	s := h.syncer(t, Options{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Notes, 1)
	info, err := os.Stat(res.Notes[0])
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
