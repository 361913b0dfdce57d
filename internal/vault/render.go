package vault

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/meetsync/internal/fireflies"
)

const untitledMeeting = "Untitled Meeting"

type frontmatter struct {
	Title         string   `yaml:"title"`
	MeetingID     string   `yaml:"meeting_id"`
	Date          string   `yaml:"date"`
	Created       string   `yaml:"created"`
	Duration      float64  `yaml:"duration"`
	Organizer     string   `yaml:"organizer"`
	MeetingType   string   `yaml:"meeting_type"`
	Aliases       []string `yaml:"aliases,omitempty"`
	Attendees     []string `yaml:"attendees,omitempty"`
	Keywords      []string `yaml:"keywords,omitempty"`
	Topics        []string `yaml:"topics,omitempty"`
	ActionItems   []string `yaml:"action_items,omitempty"`
	TranscriptURL string   `yaml:"transcript_url,omitempty"`
	MeetingLink   string   `yaml:"meeting_link,omitempty"`
	Tags          []string `yaml:"tags"`
}

// TemplateData is what a user body template is executed with.
type TemplateData struct {
	Meeting     *fireflies.MeetingDetail
	Frontmatter string
	Body        string
}

// Renderer turns a meeting into note content. The zero value renders the
// built-in layout.
type Renderer struct {
	body *template.Template
	now  func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

// NewTemplateRenderer loads a text/template file that replaces the whole note.
// The template receives TemplateData.
func NewTemplateRenderer(path string) (*Renderer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read note template: %w", err)
	}
	tmpl, err := template.New("note").Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse note template %s: %w", path, err)
	}
	return &Renderer{body: tmpl, now: time.Now}, nil
}

func (r *Renderer) Render(d *fireflies.MeetingDetail) (string, error) {
	if d == nil {
		return "", fmt.Errorf("render: nil meeting")
	}
	fm, err := r.frontmatter(d)
	if err != nil {
		return "", err
	}
	sections := []string{
		fm,
		renderHeader(d),
		renderDetails(d),
		renderAttendees(d),
		renderSummary(d),
		renderTranscript(d),
	}
	body := strings.Join(sections[1:], "\n\n")
	if r != nil && r.body != nil {
		var buf bytes.Buffer
		if err := r.body.Execute(&buf, TemplateData{Meeting: d, Frontmatter: fm, Body: body}); err != nil {
			return "", fmt.Errorf("execute note template: %w", err)
		}
		return buf.String(), nil
	}
	return fm + "\n\n" + body + "\n", nil
}

func (r *Renderer) frontmatter(d *fireflies.MeetingDetail) (string, error) {
	now := time.Now
	if r != nil && r.now != nil {
		now = r.now
	}
	title := meetingTitle(d)
	start := d.StartTime()

	fm := frontmatter{
		Title:         title,
		MeetingID:     d.ID,
		Created:       now().UTC().Format(time.RFC3339),
		Duration:      math.Round(d.Duration*100) / 100,
		Organizer:     d.OrganizerEmail,
		MeetingType:   d.Summary.MeetingType,
		Attendees:     attendeeEmails(d),
		Keywords:      d.Summary.Keywords,
		Topics:        d.Summary.TopicsDiscussed,
		ActionItems:   actionItems(d.Summary.ActionItems),
		TranscriptURL: d.TranscriptURL,
		MeetingLink:   d.MeetingLink,
	}
	if !start.IsZero() {
		fm.Date = start.UTC().Format("2006-01-02T15:04:05.000Z")
	}

	fm.Aliases = []string{title}
	if d.ID != "" {
		fm.Aliases = append(fm.Aliases, d.ID)
	}
	if runes := []rune(title); len(runes) > 30 {
		short := strings.TrimSpace(string(runes[:30]))
		if !contains(fm.Aliases, short) {
			fm.Aliases = append(fm.Aliases, short)
		}
	}

	fm.Tags = tags(d, start)

	out, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}
	return "---\n" + string(out) + "---", nil
}

func tags(d *fireflies.MeetingDetail, start time.Time) []string {
	out := []string{"fireflies", "meeting"}
	add := func(tag string) {
		if tag != "" && !contains(out, tag) {
			out = append(out, tag)
		}
	}
	if mt := strings.TrimSpace(d.Summary.MeetingType); mt != "" && !strings.EqualFold(mt, "none") {
		add(tagify(mt))
	}
	if !start.IsZero() {
		start = start.UTC()
		add(fmt.Sprintf("year-%d", start.Year()))
		add("month-" + start.Format("2006-01"))
	}
	for i, keyword := range d.Summary.Keywords {
		if i == 3 {
			break
		}
		add(tagify(keyword))
	}
	if at := strings.Index(d.OrganizerEmail, "@"); at >= 0 {
		domain := d.OrganizerEmail[at+1:]
		if dot := strings.Index(domain, "."); dot >= 0 {
			domain = domain[:dot]
		}
		if domain != "" {
			add("org-" + strings.ToLower(domain))
		}
	}
	return out
}

func tagify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}

func renderHeader(d *fireflies.MeetingDetail) string {
	return fmt.Sprintf("# %s\n\n**Date:** %s", meetingTitle(d), d.DateString)
}

func renderDetails(d *fireflies.MeetingDetail) string {
	lines := []string{
		"## Meeting Details",
		"",
		"- **Duration:** " + formatDuration(d.Duration),
		"- **Organizer:** " + d.OrganizerEmail,
	}
	if d.TranscriptURL != "" {
		lines = append(lines, fmt.Sprintf("- **Transcript URL:** [View in Fireflies](%s)", d.TranscriptURL))
	}
	if d.MeetingLink != "" {
		lines = append(lines, fmt.Sprintf("- **Meeting Link:** [Join Meeting](%s)", d.MeetingLink))
	}
	return strings.Join(lines, "\n")
}

func renderAttendees(d *fireflies.MeetingDetail) string {
	lines := []string{"## Attendees", ""}
	switch {
	case len(d.Attendees) > 0:
		for _, a := range d.Attendees {
			name := a.DisplayName
			if name == "" {
				name = a.Name
			}
			if name == "" {
				name = "Unknown"
			}
			line := "- **" + name + "**"
			if a.Email != "" {
				line += " (" + a.Email + ")"
			}
			if a.Location != "" {
				line += " - " + a.Location
			}
			lines = append(lines, line)
		}
	case len(d.Participants) > 0:
		for _, p := range d.Participants {
			lines = append(lines, "- "+p)
		}
	default:
		lines = append(lines, "- No attendee information available")
	}
	return strings.Join(lines, "\n")
}

func renderSummary(d *fireflies.MeetingDetail) string {
	s := d.Summary
	lines := []string{"## Summary", ""}
	overview := s.Overview
	if overview == "" {
		overview = s.ShortOverview
	}
	if overview != "" {
		lines = append(lines, "### Overview", overview, "")
	}
	if s.ShorthandBullet != "" {
		lines = append(lines, "### Key Points", s.ShorthandBullet, "")
	}
	if items := actionItems(s.ActionItems); len(items) > 0 {
		lines = append(lines, "### Action Items", "")
		for _, item := range items {
			lines = append(lines, "- [ ] "+item)
		}
		lines = append(lines, "")
	}
	if len(s.TopicsDiscussed) > 0 {
		lines = append(lines, "### Topics Discussed", "")
		for _, topic := range s.TopicsDiscussed {
			lines = append(lines, "- "+topic)
		}
		lines = append(lines, "")
	}
	if len(s.Keywords) > 0 {
		lines = append(lines, "### Keywords", strings.Join(s.Keywords, ", "), "")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func renderTranscript(d *fireflies.MeetingDetail) string {
	if len(d.Sentences) == 0 {
		return "## Transcript\n\n*No transcript available*"
	}
	speakerSet := map[string]struct{}{}
	for _, s := range d.Sentences {
		speakerSet[speakerName(s)] = struct{}{}
	}
	speakers := make([]string, 0, len(speakerSet))
	for name := range speakerSet {
		speakers = append(speakers, name)
	}
	sort.Strings(speakers)

	last := d.Sentences[len(d.Sentences)-1]
	end := last.EndTime
	if end == 0 {
		end = last.StartTime
	}

	lines := []string{
		"## Transcript",
		"",
		"**Participants:** " + strings.Join(speakers, ", "),
		fmt.Sprintf("**Total Duration:** %dm %ds", int(end)/60, int(end)%60),
		"",
		"<details>",
		"<summary>Click to expand full transcript</summary>",
		"",
	}

	var (
		current string
		start   float64
		text    []string
	)
	flush := func() {
		if current == "" || len(text) == 0 {
			return
		}
		lines = append(lines, fmt.Sprintf("**%s** `[%s]`: %s", current, formatTimestamp(start), strings.Join(text, " ")), "")
	}
	for _, s := range d.Sentences {
		name := speakerName(s)
		if name != current {
			flush()
			current = name
			start = s.StartTime
			text = text[:0]
		}
		text = append(text, s.Text)
	}
	flush()
	lines = append(lines, "</details>")
	return strings.Join(lines, "\n")
}

// actionItems flattens provider action items. A multi-line entry is the
// "**Person**\nitem\nitem" layout and becomes one "**Person** item" per line.
func actionItems(raw fireflies.StringList) []string {
	var out []string
	for _, entry := range raw {
		if !strings.Contains(entry, "\n") {
			out = append(out, strings.TrimSpace(entry))
			continue
		}
		out = append(out, parseActionItemSections(entry)...)
	}
	return out
}

func parseActionItemSections(s string) []string {
	var (
		out    []string
		person string
	)
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case len(line) > 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**"):
			person = line
		case person != "":
			out = append(out, person+" "+line)
		}
	}
	return out
}

func attendeeEmails(d *fireflies.MeetingDetail) []string {
	var emails []string
	for _, a := range d.Attendees {
		if a.Email != "" {
			emails = append(emails, a.Email)
		}
	}
	if len(emails) == 0 {
		return d.Participants
	}
	return emails
}

func meetingTitle(d *fireflies.MeetingDetail) string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	return untitledMeeting
}

func speakerName(s fireflies.Sentence) string {
	if s.SpeakerName == "" {
		return "Unknown Speaker"
	}
	return s.SpeakerName
}

func formatDuration(seconds float64) string {
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func formatTimestamp(seconds float64) string {
	return fmt.Sprintf("%02d:%02d", int(seconds)/60, int(seconds)%60)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
