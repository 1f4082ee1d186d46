package topic

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Info is the topic's advertised metadata (spec §3 "Info Document", §4.7).
// The fixed subset of fields is always present in the marshaled document;
// Extra carries arbitrary application-added entries such as "description"
// or "available_commands".
type Info struct {
	mu sync.Mutex

	Name       string `json:"name"`
	Location   string `json:"location"`
	Type       string `json:"type"`
	ServerName string `json:"server_name"`
	SessionID  string `json:"session_id"`
	SizeBytes  int64  `json:"size_bytes"`
	ServerPID  int    `json:"server_pid"`

	Extra map[string]any `json:"-"`
}

// infoWire is the shape actually marshaled to the info file: the fixed
// fields flattened alongside Extra's keys, so callers see one JSON object
// rather than a nested "extra" envelope.
type infoWire struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Type       string `json:"type"`
	ServerName string `json:"server_name"`
	SessionID  string `json:"session_id"`
	SizeBytes  int64  `json:"size_bytes"`
	ServerPID  int    `json:"server_pid"`
}

// MarshalJSON flattens the fixed fields and Extra into one object.
func (i *Info) MarshalJSON() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fixed, err := json.Marshal(infoWire{
		Name:       i.Name,
		Location:   i.Location,
		Type:       i.Type,
		ServerName: i.ServerName,
		SessionID:  i.SessionID,
		SizeBytes:  i.SizeBytes,
		ServerPID:  i.ServerPID,
	})
	if err != nil {
		return nil, err
	}

	base := map[string]any{}
	if err := json.Unmarshal(fixed, &base); err != nil {
		return nil, err
	}
	for k, v := range i.Extra {
		base[k] = v
	}
	return json.Marshal(base)
}

// Set adds or replaces an application-defined field in the info document.
// Call Topic.UpdateInfo afterward to persist the change.
func (i *Info) Set(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Extra == nil {
		i.Extra = make(map[string]any)
	}
	i.Extra[key] = value
}

// SetAvailableCommands replaces the "available_commands" array by parsing a
// comma-separated list (spec §4.7 set_available_control_commands).
func (i *Info) SetAvailableCommands(commaSeparated string) {
	parts := strings.Split(commaSeparated, ",")
	commands := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			commands = append(commands, p)
		}
	}
	i.Set("available_commands", commands)
}

// writeInfoFile serializes info and writes it atomically to path: write to
// a temp file in the same directory then rename, so a reader never observes
// a partially written document.
func writeInfoFile(path string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("topic: marshal info: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("topic: write info temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("topic: rename info file: %w", err)
	}
	return nil
}
