package genstream

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Session is the persisted audit record of one answered query.
type Session struct {
	JobID      string         `json:"job_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Query      string         `json:"query"`
	Answer     string         `json:"answer"`
	Collection string         `json:"collection"`
	Sources    []string       `json:"sources"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionWriter persists sessions as JSON files under dataDir/sessions.
type SessionWriter struct {
	dataDir string
}

func NewSessionWriter(dataDir string) *SessionWriter {
	return &SessionWriter{dataDir: dataDir}
}

// Save writes the session to sessions/{job_id}.json, creating the
// directory on first use.
func (w *SessionWriter) Save(s Session) (string, error) {
	dir := filepath.Join(w.dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sessions dir: %w", err)
	}

	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(dir, s.JobID+".json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write session %s: %w", s.JobID, err)
	}
	return path, nil
}
