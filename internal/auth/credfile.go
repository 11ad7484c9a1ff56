package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential file's directory.
const DirPerms = 0o700

// File is the on-disk format for captured credentials. Meta carries the
// identity the pair belongs to (user id, participant) so a later run can
// check it is using the right account.
type File struct {
	Credentials *Credentials      `json:"credentials"`
	Meta        map[string]string `json:"meta,omitempty"`
	SavedAt     time.Time         `json:"saved_at"`
}

// LoadCredentials reads a credential file. Returns (nil, nil, nil) if the
// file does not exist.
func LoadCredentials(path string) (*Credentials, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("auth: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("auth: decoding %s: %w", path, err)
	}

	if f.Credentials == nil {
		return nil, nil, fmt.Errorf("auth: %s missing credentials field", path)
	}

	return f.Credentials, f.Meta, nil
}

// SaveCredentials writes a credential file atomically (write-to-temp +
// rename) with 0600 permissions. Never logs token values.
func SaveCredentials(path string, creds Credentials, meta map[string]string) error {
	f := File{Credentials: &creds, Meta: meta, SavedAt: time.Now().UTC()}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("auth: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("auth: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("auth: renaming: %w", err)
	}

	success = true

	return nil
}
