package vault

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type noteHeader struct {
	MeetingID string `yaml:"meeting_id"`
}

// ScanMeetingIDs reads the meeting_id frontmatter key of every note in the
// folder. Unreadable notes are logged and skipped.
func (w *Writer) ScanMeetingIDs() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), noteExt) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		id, err := readMeetingID(path)
		if err != nil {
			w.logf("skipping %s: %v", path, err)
			continue
		}
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func readMeetingID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	block, ok := frontmatterBlock(raw)
	if !ok {
		return "", nil
	}
	var header noteHeader
	if err := yaml.Unmarshal(block, &header); err != nil {
		return "", err
	}
	return strings.TrimSpace(header.MeetingID), nil
}

func frontmatterBlock(raw []byte) ([]byte, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, false
	}
	var block bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			return block.Bytes(), true
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	return nil, false
}
