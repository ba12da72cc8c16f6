// Package daemon supervises the worker process: single-instance
// guarantee, health probing, version-mismatch restart, and cold start.
package daemon

import (
	"os"
	"time"

	"github.com/goccy/go-json"
)

// PIDFile records the running worker's identity.
type PIDFile struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	StartedAt string `json:"startedAt"`
}

// WritePIDFile writes the worker PID record.
func WritePIDFile(path string, pid, port int) error {
	data, err := json.Marshal(PIDFile{
		PID:       pid,
		Port:      port,
		StartedAt: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadPIDFile loads the PID record. A missing or malformed file
// returns nil.
func ReadPIDFile(path string) *PIDFile {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil
	}
	return &pf
}

// RemovePIDFile deletes the PID record; missing is fine.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
