package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const machineIDFile = "machine-id"

// MachineID loads the machine identity from dir, creating it on first use.
// The identity is a hostname-prefixed UUID written once and reused forever;
// regenerating it would orphan every row this machine has ever exported.
func MachineID(dir string) (string, error) {
	path := filepath.Join(dir, machineIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("backup: read machine id: %w", err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "machine"
	}
	id := sanitizeHost(host) + "-" + uuid.New().String()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("backup: create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("backup: write machine id: %w", err)
	}
	return id, nil
}

// sanitizeHost makes a hostname safe for use inside a filename: the machine
// id names the backup file itself.
func sanitizeHost(host string) string {
	host = strings.ToLower(host)
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "machine"
	}
	return out
}
