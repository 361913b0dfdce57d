// Package syncer drives one pass of the meeting sync: discover meetings,
// skip known ones, wait for finished summaries, write notes, then record them.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/meetsync/internal/fireflies"
	"github.com/agentworkforce/meetsync/internal/notify"
)

const (
	DefaultLookbackDays = 7
	DefaultPageSize     = 10
)

type Source interface {
	ListSince(ctx context.Context, from time.Time, to *time.Time, pageSize int) ([]fireflies.MeetingSummary, error)
	GetDetailIfReady(ctx context.Context, id string) (*fireflies.MeetingDetail, error)
	GetDetailsBatch(ctx context.Context, ids []string) []fireflies.MeetingDetail
}

type Ledger interface {
	IsProcessed(id string) bool
	MarkProcessed(id string) error
	SetMetadata(key string, value any) error
}

type NoteWriter interface {
	CreateNote(d *fireflies.MeetingDetail) (string, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	LookbackDays int
	PageSize     int
	// DryRun gates meetings but writes no notes and marks nothing.
	DryRun   bool
	Verbose  bool
	Notifier notify.Notifier
	Logger   Logger
}

type Syncer struct {
	source       Source
	ledger       Ledger
	writer       NoteWriter
	notifier     notify.Notifier
	logger       Logger
	lookbackDays int
	pageSize     int
	dryRun       bool
	verbose      bool
	now          func() time.Time

	mu   sync.Mutex
	last *Result
}

type Failure struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type Result struct {
	RunID        string    `json:"runId"`
	Targeted     bool      `json:"targeted,omitempty"`
	DryRun       bool      `json:"dryRun,omitempty"`
	Candidates   int       `json:"candidates"`
	AlreadyKnown int       `json:"alreadyKnown"`
	Processed    int       `json:"processed"`
	NotReady     int       `json:"notReady"`
	Errors       int       `json:"errors"`
	Notes        []string  `json:"notes,omitempty"`
	Pending      []string  `json:"pending,omitempty"`
	Failures     []Failure `json:"failures,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

func (r Result) OK() bool {
	return r.Errors == 0
}

func (r *Result) fail(id, stage string, err error) {
	r.Errors++
	r.Failures = append(r.Failures, Failure{ID: id, Stage: stage, Error: err.Error()})
}

func NewSyncer(source Source, ledger Ledger, writer NoteWriter, opts Options) (*Syncer, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if writer == nil && !opts.DryRun {
		return nil, fmt.Errorf("note writer is required")
	}
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Syncer{
		source:       source,
		ledger:       ledger,
		writer:       writer,
		notifier:     notifier,
		logger:       opts.Logger,
		lookbackDays: lookback,
		pageSize:     pageSize,
		dryRun:       opts.DryRun,
		verbose:      opts.Verbose,
		now:          time.Now,
	}, nil
}

// RunOnce syncs every meeting started within the lookback window. Only a
// discovery failure is returned as an error; per-meeting failures are counted.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	res := s.newResult(false)
	from := res.StartedAt.AddDate(0, 0, -s.lookbackDays)
	s.logf("sync %s: checking meetings since %s", res.RunID, from.UTC().Format(time.RFC3339))

	summaries, err := s.source.ListSince(ctx, from, nil, s.pageSize)
	if err != nil {
		res.FinishedAt = s.now()
		return res, fmt.Errorf("discover meetings: %w", err)
	}
	ids := make([]string, 0, len(summaries))
	for _, m := range summaries {
		if strings.TrimSpace(m.ID) == "" {
			s.logf("skipping listed meeting %q without an id", m.Title)
			continue
		}
		ids = append(ids, m.ID)
	}
	s.process(ctx, ids, &res)
	s.finish(&res)
	return res, nil
}

// RunTargeted syncs exactly the given ids, skipping discovery.
func (s *Syncer) RunTargeted(ctx context.Context, ids []string) (Result, error) {
	res := s.newResult(true)
	trimmed := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			trimmed = append(trimmed, id)
		}
	}
	s.logf("sync %s: processing %d targeted meetings", res.RunID, len(trimmed))
	s.process(ctx, trimmed, &res)
	s.finish(&res)
	return res, nil
}

// LastResult is the outcome of the most recent finished run.
func (s *Syncer) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *Syncer) newResult(targeted bool) Result {
	return Result{
		RunID:     uuid.NewString(),
		Targeted:  targeted,
		DryRun:    s.dryRun,
		StartedAt: s.now(),
	}
}

func (s *Syncer) process(ctx context.Context, ids []string, res *Result) {
	var unknown []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		res.Candidates++
		if s.ledger.IsProcessed(id) {
			res.AlreadyKnown++
			s.debugf("meeting %s already synced", id)
			continue
		}
		unknown = append(unknown, id)
	}
	if s.dryRun {
		s.gateDryRun(ctx, unknown, res)
		return
	}
	// Work on a meeting is never interrupted; shutdown is honored between meetings.
	work := context.WithoutCancel(ctx)
	for i, id := range unknown {
		if ctx.Err() != nil {
			s.logf("shutdown requested, leaving %d meetings for the next run", len(unknown)-i)
			return
		}
		s.processMeeting(work, id, res)
	}
}

func (s *Syncer) processMeeting(ctx context.Context, id string, res *Result) {
	detail, err := s.source.GetDetailIfReady(ctx, id)
	if err != nil {
		s.logf("ERROR: fetching meeting %s: %v", id, err)
		res.fail(id, "fetch", err)
		return
	}
	if detail == nil {
		res.NotReady++
		s.logf("meeting %s summary not ready yet, will retry next run", id)
		return
	}

	path, err := s.createNote(detail)
	if err != nil {
		s.logf("ERROR: writing note for meeting %s: %v", id, err)
		res.fail(id, "write", err)
		return
	}
	if err := s.ledger.MarkProcessed(id); err != nil {
		// The note exists; a lost mark only risks a suffixed duplicate later.
		s.logf("ERROR: recording meeting %s as synced: %v", id, err)
	}
	res.Processed++
	res.Notes = append(res.Notes, path)
	s.logf("synced meeting %s (%s) -> %s", id, detail.Title, path)
	s.notifier.MeetingSynced(notify.MeetingNote{
		ID:        detail.ID,
		Title:     detail.Title,
		Date:      detail.StartTime(),
		Organizer: detail.OrganizerEmail,
		Path:      path,
	})
}

func (s *Syncer) createNote(detail *fireflies.MeetingDetail) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("note writer panicked: %v", r)
		}
	}()
	return s.writer.CreateNote(detail)
}

func (s *Syncer) gateDryRun(ctx context.Context, ids []string, res *Result) {
	if len(ids) == 0 {
		return
	}
	details := s.source.GetDetailsBatch(ctx, ids)
	fetched := make(map[string]fireflies.MeetingDetail, len(details))
	for _, d := range details {
		fetched[d.ID] = d
	}
	for _, id := range ids {
		d, ok := fetched[id]
		switch {
		case !ok:
			res.fail(id, "fetch", errors.New("detail unavailable"))
		case !d.Ready():
			res.NotReady++
			s.logf("[dry-run] meeting %s not ready (status: %s)", id, d.Status())
		default:
			res.Pending = append(res.Pending, id)
			s.logf("[dry-run] would sync meeting %s (%s)", id, d.Title)
		}
	}
}

func (s *Syncer) finish(res *Result) {
	res.FinishedAt = s.now()
	s.logf("sync %s finished in %s: %d candidates, %d already synced, %d processed, %d not ready, %d errors",
		res.RunID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
		res.Candidates, res.AlreadyKnown, res.Processed, res.NotReady, res.Errors)
	if !s.dryRun && (res.Processed > 0 || res.Errors > 0) {
		s.notifier.BatchSummary(notify.Batch{
			RunID:     res.RunID,
			Processed: res.Processed,
			NotReady:  res.NotReady,
			Errors:    res.Errors,
		})
	}
	s.mu.Lock()
	last := *res
	s.last = &last
	s.mu.Unlock()
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func (s *Syncer) debugf(format string, args ...any) {
	if !s.verbose {
		return
	}
	s.logf(format, args...)
}
