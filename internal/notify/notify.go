// Package notify tells the user about finished syncs.
package notify

import (
	"fmt"
	"time"
)

type MeetingNote struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Organizer string    `json:"organizer,omitempty"`
	Path      string    `json:"path"`
}

type Batch struct {
	RunID     string `json:"runId"`
	Processed int    `json:"processed"`
	NotReady  int    `json:"notReady"`
	Errors    int    `json:"errors"`
}

// Notifier implementations must not block the sync for long and never fail it.
type Notifier interface {
	MeetingSynced(note MeetingNote)
	BatchSummary(batch Batch)
	Error(message string)
}

type Logger interface {
	Printf(format string, args ...any)
}

const (
	meetingSyncedTitle = "Meeting Synced to Obsidian"
	batchTitle         = "Fireflies Sync Complete"
	errorTitle         = "Fireflies Sync Error"
)

// BatchMessage is the one-line summary shown for a batch.
func BatchMessage(b Batch) string {
	switch {
	case b.Processed > 0 && b.Errors == 0:
		return fmt.Sprintf("%d %s synced", b.Processed, plural(b.Processed))
	case b.Processed == 0 && b.Errors > 0:
		return fmt.Sprintf("%d %s failed to sync", b.Errors, plural(b.Errors))
	default:
		return fmt.Sprintf("%d synced, %d failed", b.Processed, b.Errors)
	}
}

func plural(n int) string {
	if n == 1 {
		return "meeting"
	}
	return "meetings"
}

// Log writes notifications to a logger.
type Log struct {
	Logger Logger
}

func (l Log) MeetingSynced(note MeetingNote) {
	l.printf("%s: %s -> %s", meetingSyncedTitle, note.Title, note.Path)
}

func (l Log) BatchSummary(b Batch) {
	l.printf("%s: %s", batchTitle, BatchMessage(b))
}

func (l Log) Error(message string) {
	l.printf("%s: %s", errorTitle, message)
}

func (l Log) printf(format string, args ...any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Printf(format, args...)
}

// Multi fans out to every notifier in order.
type Multi []Notifier

func (m Multi) MeetingSynced(note MeetingNote) {
	for _, n := range m {
		if n != nil {
			n.MeetingSynced(note)
		}
	}
}

func (m Multi) BatchSummary(b Batch) {
	for _, n := range m {
		if n != nil {
			n.BatchSummary(b)
		}
	}
}

func (m Multi) Error(message string) {
	for _, n := range m {
		if n != nil {
			n.Error(message)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) MeetingSynced(MeetingNote) {}
func (Nop) BatchSummary(Batch)        {}
func (Nop) Error(string)              {}
