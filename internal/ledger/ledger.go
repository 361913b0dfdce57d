// Package ledger records which meetings have already been written to the
// vault. Every query re-reads the backend so that edits made by another
// process, or a manual reset, are observed immediately.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	MetadataLastPollTime = "last_poll_time"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Stats struct {
	TotalProcessed int        `json:"totalProcessed"`
	LastSync       *time.Time `json:"lastSync,omitempty"`
	Location       string     `json:"location"`
}

type Ledger struct {
	backend Backend
	logger  Logger
	now     func() time.Time

	mu sync.Mutex
}

type Options struct {
	Logger Logger
	Now    func() time.Time
}

// Open builds the backend named by dsn and initializes the ledger.
func Open(dsn string, opts Options) (*Ledger, error) {
	backend, err := BuildBackend(dsn)
	if err != nil {
		return nil, err
	}
	return New(backend, opts)
}

// New wraps backend. An empty snapshot is persisted when nothing exists yet.
func New(backend Backend, opts Options) (*Ledger, error) {
	if backend == nil {
		return nil, ErrInvalidInput
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{backend: backend, logger: opts.Logger, now: now}

	snapshot, err := backend.Load()
	switch {
	case err != nil:
		l.reportLoadFailure(err)
		l.quarantine(err)
	case snapshot == nil:
		if err := backend.Save(emptySnapshot()); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) Close() error {
	if closer, ok := l.backend.(backendCloser); ok {
		return closer.Close()
	}
	return nil
}

func (l *Ledger) Location() string {
	return l.backend.Location()
}

// IsProcessed reports whether id has a note. An unreadable ledger answers false.
func (l *Ledger) IsProcessed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.load()
	_, ok := state.ids[id]
	return ok
}

// MarkProcessed adds id and persists before returning. Marking a known id
// does not rewrite the backend.
func (l *Ledger) MarkProcessed(id string) error {
	return l.MarkManyProcessed([]string{id})
}

// MarkManyProcessed adds ids with a single write. Nothing is written when
// the current ledger cannot be read.
func (l *Ledger) MarkManyProcessed(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.loadForWrite()
	if err != nil {
		return err
	}
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := state.ids[id]; ok {
			continue
		}
		state.ids[id] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	stamp := l.now().UTC().Format(time.RFC3339)
	state.lastSync = &stamp
	return l.save(state)
}

// Metadata returns the stored value for key, or fallback when unset.
func (l *Ledger) Metadata(key string, fallback any) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.load()
	if value, ok := state.metadata[key]; ok {
		return value
	}
	return fallback
}

// MetadataTime parses a timestamp stored by SetMetadata.
func (l *Ledger) MetadataTime(key string) (time.Time, bool) {
	raw, ok := l.Metadata(key, nil).(string)
	if !ok {
		return time.Time{}, false
	}
	return parseTimestamp(raw)
}

func (l *Ledger) SetMetadata(key string, value any) error {
	if key == "" {
		return ErrInvalidInput
	}
	if ts, ok := value.(time.Time); ok {
		value = ts.UTC().Format(time.RFC3339)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.loadForWrite()
	if err != nil {
		return err
	}
	state.metadata[key] = value
	return l.save(state)
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.load()
	stats := Stats{
		TotalProcessed: len(state.ids),
		Location:       l.backend.Location(),
	}
	if state.lastSync != nil {
		if ts, ok := parseTimestamp(*state.lastSync); ok {
			stats.LastSync = &ts
		}
	}
	return stats
}

// ProcessedIDs returns the known ids in sorted order.
func (l *Ledger) ProcessedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.load()
	return state.sortedIDs()
}

// Clear drops every processed id and all metadata.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.backend.Save(emptySnapshot()); err != nil {
		l.logf("ERROR: clearing ledger %s: %v", l.backend.Location(), err)
		return err
	}
	l.logf("ledger %s cleared", l.backend.Location())
	return nil
}

type ledgerState struct {
	ids      map[string]struct{}
	lastSync *string
	metadata map[string]any
}

func (s ledgerState) sortedIDs() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// load is the read path: an unreadable ledger is logged and reads as empty.
func (l *Ledger) load() ledgerState {
	snapshot, err := l.backend.Load()
	if err != nil {
		l.reportLoadFailure(err)
		return newLedgerState(nil)
	}
	return newLedgerState(snapshot)
}

// loadForWrite returns the state a mutation builds on. A read failure aborts
// the write, except for a corrupt ledger that was moved aside, which starts
// over empty.
func (l *Ledger) loadForWrite() (ledgerState, error) {
	snapshot, err := l.backend.Load()
	if err == nil {
		return newLedgerState(snapshot), nil
	}
	l.reportLoadFailure(err)
	if l.quarantine(err) {
		return newLedgerState(nil), nil
	}
	return ledgerState{}, fmt.Errorf("ledger %s not updated: %w", l.backend.Location(), err)
}

func newLedgerState(snapshot *Snapshot) ledgerState {
	state := ledgerState{
		ids:      map[string]struct{}{},
		metadata: map[string]any{},
	}
	if snapshot == nil {
		return state
	}
	for _, id := range snapshot.ProcessedIDs {
		state.ids[id] = struct{}{}
	}
	for _, id := range snapshot.LegacyProcessed {
		state.ids[id] = struct{}{}
	}
	state.lastSync = snapshot.LastSync
	for key, value := range snapshot.Metadata {
		state.metadata[key] = value
	}
	return state
}

func (l *Ledger) save(state ledgerState) error {
	snapshot := &Snapshot{
		ProcessedIDs: state.sortedIDs(),
		LastSync:     state.lastSync,
		Metadata:     state.metadata,
	}
	if err := l.backend.Save(snapshot); err != nil {
		l.logf("ERROR: writing ledger %s: %v", l.backend.Location(), err)
		return err
	}
	return nil
}

type quarantiner interface {
	Quarantine(now time.Time) (string, error)
}

func (l *Ledger) reportLoadFailure(err error) {
	l.logf("ERROR: ledger %s unreadable, treating it as empty: %v", l.backend.Location(), err)
}

// quarantine moves a corrupt ledger aside and reports whether it did.
// Only New and the write paths call it.
func (l *Ledger) quarantine(err error) bool {
	if !errors.Is(err, ErrCorrupt) {
		return false
	}
	q, ok := l.backend.(quarantiner)
	if !ok {
		return false
	}
	moved, qErr := q.Quarantine(l.now())
	if qErr != nil {
		l.logf("ERROR: could not move corrupt ledger aside: %v", qErr)
		return false
	}
	if moved != "" {
		l.logf("corrupt ledger moved to %s", moved)
	}
	return true
}

func (l *Ledger) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		ProcessedIDs: []string{},
		Metadata:     map[string]any{},
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
