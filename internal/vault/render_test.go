package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/meetsync/internal/fireflies"
)

func richMeeting() *fireflies.MeetingDetail {
	m := sampleMeeting()
	m.Title = "Quarterly Planning Review With The Whole Team"
	m.TranscriptURL = "https://app.fireflies.ai/view/abc123"
	m.Attendees = []fireflies.Attendee{
		{DisplayName: "Alice", Email: "alice@acme.com", Location: "Berlin"},
		{Name: "Bob"},
	}
	m.Summary = fireflies.Summary{
		Overview:        "We agreed on the roadmap.",
		Keywords:        fireflies.StringList{"Road Map", "budget_q3", "hiring", "offsite"},
		ActionItems:     fireflies.StringList{"**Alice**\nSend notes (01:10)\nBook room\n\n**Bob**\nDraft budget"},
		TopicsDiscussed: fireflies.StringList{"Roadmap"},
		MeetingType:     "Planning Session",
	}
	m.Sentences = []fireflies.Sentence{
		{Index: 0, SpeakerName: "Alice", Text: "Hello.", StartTime: 5, EndTime: 6},
		{Index: 1, SpeakerName: "Alice", Text: "Let's start.", StartTime: 7, EndTime: 9},
		{Index: 2, SpeakerName: "Bob", Text: "Sure.", StartTime: 65, EndTime: 66},
		{Index: 3, SpeakerName: "Alice", Text: "Great.", StartTime: 130, EndTime: 131},
	}
	return m
}

func fixedRenderer() *Renderer {
	r := NewRenderer()
	r.now = func() time.Time { return time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC) }
	return r
}

func parseFrontmatter(t *testing.T, note string) frontmatter {
	t.Helper()
	block, ok := frontmatterBlock([]byte(note))
	if !ok {
		t.Fatalf("note has no frontmatter:\n%s", note)
	}
	var fm frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		t.Fatalf("parse frontmatter: %v\n%s", err, block)
	}
	return fm
}

func TestRenderFrontmatter(t *testing.T) {
	note, err := fixedRenderer().Render(richMeeting())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	fm := parseFrontmatter(t, note)

	if fm.MeetingID != "abc123" || fm.Date != "2024-06-15T14:30:00.000Z" || fm.Created != "2024-06-16T09:00:00Z" {
		t.Fatalf("unexpected identity fields %+v", fm)
	}
	wantAliases := []string{"Quarterly Planning Review With The Whole Team", "abc123", "Quarterly Planning Review With"}
	if diff := cmp.Diff(wantAliases, fm.Aliases); diff != "" {
		t.Fatalf("aliases mismatch (-want +got):\n%s", diff)
	}
	wantTags := []string{
		"fireflies", "meeting", "planning-session", "year-2024", "month-2024-06",
		"road-map", "budget-q3", "hiring", "org-acme",
	}
	if diff := cmp.Diff(wantTags, fm.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	wantItems := []string{"**Alice** Send notes (01:10)", "**Alice** Book room", "**Bob** Draft budget"}
	if diff := cmp.Diff(wantItems, fm.ActionItems); diff != "" {
		t.Fatalf("action items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice@acme.com"}, fm.Attendees); diff != "" {
		t.Fatalf("attendees mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderBodySections(t *testing.T) {
	note, err := fixedRenderer().Render(richMeeting())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"# Quarterly Planning Review With The Whole Team",
		"- **Duration:** 45m 30s",
		"- **Transcript URL:** [View in Fireflies](https://app.fireflies.ai/view/abc123)",
		"- **Alice** (alice@acme.com) - Berlin",
		"- **Bob**",
		"### Overview\nWe agreed on the roadmap.",
		"- [ ] **Bob** Draft budget",
		"**Participants:** Alice, Bob",
		"**Total Duration:** 2m 11s",
		"**Alice** `[00:05]`: Hello. Let's start.",
		"**Bob** `[01:05]`: Sure.",
		"**Alice** `[02:10]`: Great.",
		"</details>",
	} {
		if !strings.Contains(note, want) {
			t.Fatalf("expected note to contain %q, got:\n%s", want, note)
		}
	}
}

func TestRenderSparseMeeting(t *testing.T) {
	note, err := fixedRenderer().Render(&fireflies.MeetingDetail{MeetingSummary: fireflies.MeetingSummary{ID: "x"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"# Untitled Meeting", "- No attendee information available", "*No transcript available*"} {
		if !strings.Contains(note, want) {
			t.Fatalf("expected %q in sparse note:\n%s", want, note)
		}
	}
	fm := parseFrontmatter(t, note)
	if fm.Date != "" {
		t.Fatalf("expected empty date, got %q", fm.Date)
	}
}

func TestRenderQuotesHostileTitles(t *testing.T) {
	m := sampleMeeting()
	m.Title = `Review: "launch" #1 - [draft]`
	note, err := fixedRenderer().Render(m)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if fm := parseFrontmatter(t, note); fm.Title != m.Title {
		t.Fatalf("expected title to survive yaml round trip, got %q", fm.Title)
	}
}

func TestTemplateRenderer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.tmpl")
	tmpl := "{{.Frontmatter}}\n\n# {{.Meeting.Title}} ({{.Meeting.ID}})\n"
	if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	r, err := NewTemplateRenderer(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	note, err := r.Render(sampleMeeting())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(note, "# Weekly Sync (abc123)") || !strings.HasPrefix(note, "---\n") {
		t.Fatalf("unexpected templated note:\n%s", note)
	}
	if _, err := NewTemplateRenderer(filepath.Join(t.TempDir(), "missing.tmpl")); err == nil {
		t.Fatalf("expected error for missing template")
	}
}

func TestScanMeetingIDs(t *testing.T) {
	w, root := newTestWriter(t)
	if _, err := w.CreateNote(sampleMeeting()); err != nil {
		t.Fatalf("create note: %v", err)
	}
	other := sampleMeeting()
	other.ID = "def456"
	if _, err := w.CreateNote(other); err != nil {
		t.Fatalf("create note: %v", err)
	}
	dir := filepath.Join(root, "Fireflies")
	_ = os.WriteFile(filepath.Join(dir, "plain.md"), []byte("# no frontmatter\n"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "broken.md"), []byte("---\nmeeting_id: [\n---\n"), 0o644)

	ids, err := w.ScanMeetingIDs()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if diff := cmp.Diff([]string{"abc123", "def456"}, ids); diff != "" {
		t.Fatalf("scanned ids mismatch (-want +got):\n%s", diff)
	}
}
