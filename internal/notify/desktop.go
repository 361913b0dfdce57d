package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const osascriptTimeout = 5 * time.Second

type DesktopOptions struct {
	Enabled     bool
	ShowSuccess bool
	ShowErrors  bool
	Logger      Logger
}

// Desktop posts macOS notifications through osascript. On other platforms it
// does nothing.
type Desktop struct {
	enabled     bool
	showSuccess bool
	showErrors  bool
	logger      Logger
	run         func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(opts DesktopOptions) *Desktop {
	d := &Desktop{
		enabled:     opts.Enabled && runtime.GOOS == "darwin",
		showSuccess: opts.ShowSuccess,
		showErrors:  opts.ShowErrors,
		logger:      opts.Logger,
		run:         runCommand,
	}
	if opts.Enabled && !d.enabled && opts.Logger != nil {
		opts.Logger.Printf("desktop notifications disabled: not running on macOS")
	}
	return d
}

func (d *Desktop) Enabled() bool {
	return d != nil && d.enabled
}

func (d *Desktop) MeetingSynced(note MeetingNote) {
	if !d.Enabled() || !d.showSuccess {
		return
	}
	title := note.Title
	if title == "" {
		title = "Untitled Meeting"
	}
	subtitle := ""
	if note.Organizer != "" {
		subtitle = "Host: " + note.Organizer
	}
	if !note.Date.IsZero() {
		if subtitle != "" {
			subtitle += " • "
		}
		subtitle += note.Date.Local().Format("Jan 2 15:04")
	}
	d.send(meetingSyncedTitle, title, subtitle)
}

func (d *Desktop) BatchSummary(b Batch) {
	if !d.Enabled() || (b.Processed == 0 && b.Errors == 0) {
		return
	}
	if b.Errors == 0 && !d.showSuccess {
		return
	}
	if b.Processed == 0 && !d.showErrors {
		return
	}
	d.send(batchTitle, BatchMessage(b), "")
}

func (d *Desktop) Error(message string) {
	if !d.Enabled() || !d.showErrors {
		return
	}
	d.send(errorTitle, message, "Check logs for details")
}

func (d *Desktop) send(title, message, subtitle string) {
	script := "display notification " + appleScriptString(message) + " with title " + appleScriptString(title)
	if subtitle != "" {
		script += " subtitle " + appleScriptString(subtitle)
	}
	ctx, cancel := context.WithTimeout(context.Background(), osascriptTimeout)
	defer cancel()
	if err := d.run(ctx, "osascript", "-e", script); err != nil && d.logger != nil {
		d.logger.Printf("ERROR: desktop notification failed: %v", err)
	}
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
