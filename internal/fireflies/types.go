package fireflies

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type SummaryStatus string

const (
	StatusProcessing SummaryStatus = "processing"
	StatusProcessed  SummaryStatus = "processed"
	StatusFailed     SummaryStatus = "failed"
	StatusSkipped    SummaryStatus = "skipped"
	StatusUnknown    SummaryStatus = "unknown"
)

// ParseSummaryStatus maps the provider string onto the known statuses.
// Matching is exact; anything else is StatusUnknown.
func ParseSummaryStatus(raw string) SummaryStatus {
	switch status := SummaryStatus(raw); status {
	case StatusProcessing, StatusProcessed, StatusFailed, StatusSkipped:
		return status
	default:
		return StatusUnknown
	}
}

// StringList decodes either a JSON string or an array of strings. Non-string
// array elements and other shapes are dropped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*l = nil
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if strings.TrimSpace(s) != "" {
			*l = StringList{s}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil
		}
		out := make(StringList, 0, len(items))
		for _, item := range items {
			var s string
			if json.Unmarshal(item, &s) == nil && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		*l = out
	}
	return nil
}

// Timestamp accepts RFC3339 strings and epoch numbers in seconds or milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				t.Time = ts
				return nil
			}
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	if n > 1e11 {
		t.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		t.Time = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

type MeetingSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Date           Timestamp `json:"date"`
	DateString     string    `json:"dateString"`
	Duration       float64   `json:"duration"`
	OrganizerEmail string    `json:"organizer_email"`
}

// StartTime prefers the numeric date and falls back to dateString.
func (m MeetingSummary) StartTime() time.Time {
	if !m.Date.IsZero() {
		return m.Date.Time
	}
	var ts Timestamp
	if m.DateString != "" {
		raw, _ := json.Marshal(m.DateString)
		_ = ts.UnmarshalJSON(raw)
	}
	return ts.Time
}

type Attendee struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Location    string `json:"location"`
}

// Label is the best human name for the attendee.
func (a Attendee) Label() string {
	for _, candidate := range []string{a.DisplayName, a.Name, a.Email} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}

type Sentence struct {
	Index       int     `json:"index"`
	SpeakerName string  `json:"speaker_name"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
}

type Summary struct {
	Overview        string     `json:"overview"`
	ShortOverview   string     `json:"short_overview"`
	ShorthandBullet string     `json:"shorthand_bullet"`
	Keywords        StringList `json:"keywords"`
	ActionItems     StringList `json:"action_items"`
	TopicsDiscussed StringList `json:"topics_discussed"`
	MeetingType     string     `json:"meeting_type"`
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	type summaryAlias Summary
	var alias summaryAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		*s = Summary{}
		return nil
	}
	*s = Summary(alias)
	return nil
}

type MeetingInfo struct {
	SummaryStatus SummaryStatus
	RawStatus     string
}

// UnmarshalJSON never fails: a malformed meeting_info leaves the status unknown.
func (m *MeetingInfo) UnmarshalJSON(data []byte) error {
	*m = MeetingInfo{SummaryStatus: StatusUnknown}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}
	var status string
	if err := json.Unmarshal(raw["summary_status"], &status); err != nil {
		return nil
	}
	m.RawStatus = status
	m.SummaryStatus = ParseSummaryStatus(status)
	return nil
}

func (m MeetingInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"summary_status": m.RawStatus})
}

type MeetingDetail struct {
	MeetingSummary
	Participants  StringList  `json:"participants"`
	Attendees     []Attendee  `json:"meeting_attendees"`
	Sentences     []Sentence  `json:"sentences"`
	Summary       Summary     `json:"summary"`
	Info          MeetingInfo `json:"meeting_info"`
	TranscriptURL string      `json:"transcript_url"`
	MeetingLink   string      `json:"meeting_link"`
}

// Status is the readiness status, StatusUnknown when absent.
func (d *MeetingDetail) Status() SummaryStatus {
	if d == nil || d.Info.SummaryStatus == "" {
		return StatusUnknown
	}
	return d.Info.SummaryStatus
}

// Ready reports whether the summary is final. Only StatusProcessed qualifies.
func (d *MeetingDetail) Ready() bool {
	return d.Status() == StatusProcessed
}
