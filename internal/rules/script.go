// Package rules runs user-defined Lua alert rules against incoming sensor
// snapshots. Scripts can record event-log entries and send notifications;
// they cannot command devices.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Meta is the script metadata from the first-line JSON comment.
type Meta struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Script is one rule file.
type Script struct {
	ID      string // filename stem
	Meta    Meta
	LuaCode string
}

// LoadDir reads every .lua file in dir. Malformed scripts are skipped with
// a warning; a missing directory yields an empty list.
func LoadDir(dir string, logger *slog.Logger) ([]*Script, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := parseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn("skipping rule script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// parseFile reads a .lua rule file. The first line may carry JSON metadata
// in a comment: -- {"name": "...", "enabled": true}
func parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:   strings.TrimSuffix(filepath.Base(path), ".lua"),
		Meta: Meta{Enabled: true},
	}

	content := string(data)
	lines := strings.SplitN(content, "\n", 2)
	if strings.HasPrefix(lines[0], "-- {") {
		jsonStr := strings.TrimPrefix(lines[0], "-- ")
		if err := json.Unmarshal([]byte(jsonStr), &s.Meta); err != nil {
			return nil, fmt.Errorf("script metadata: %w", err)
		}
		if len(lines) > 1 {
			content = lines[1]
		} else {
			content = ""
		}
	}
	if s.Meta.Name == "" {
		s.Meta.Name = s.ID
	}
	s.LuaCode = content
	return s, nil
}
