// Package bundle stores exported delta histories on disk, one file per
// wavelet. The file's existence is the "already exported" marker, so files
// are only ever created complete: write to a temp file, sync, rename.
package bundle

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// File layout constants.
const (
	// Suffix ends every bundle file name. Temp files never end with it.
	Suffix = "json"

	nameSeparator = "#"
	tempPattern   = ".bundle-*.tmp"

	filePerms = 0o644
	dirPerms  = 0o755
)

// ErrBadName is returned for file names that are not bundle names.
var ErrBadName = errors.New("bundle: not a bundle file name")

// ErrNoDeltas is returned when a bundle has no data.rawDeltas array.
var ErrNoDeltas = errors.New("bundle: missing data.rawDeltas")

// ErrInvalid means the bundle is not decodable.
var ErrInvalid = errors.New("bundle: invalid bundle")

// FileName returns "<waveId>#<waveletId>#json". Neither id can contain '#'.
func FileName(name waveid.WaveletName) string {
	return name.Wave.String() + nameSeparator + name.Wavelet.String() + nameSeparator + Suffix
}

// ParseName reverses FileName.
func ParseName(fileName string) (waveid.WaveletName, error) {
	parts := strings.Split(fileName, nameSeparator)
	if len(parts) != 3 || parts[2] != Suffix {
		return waveid.WaveletName{}, fmt.Errorf("%w: %q", ErrBadName, fileName)
	}

	wave, err := waveid.ParseWaveID(parts[0])
	if err != nil {
		return waveid.WaveletName{}, fmt.Errorf("%w: %q: %w", ErrBadName, fileName, err)
	}

	wavelet, err := waveid.ParseWaveletID(parts[1])
	if err != nil {
		return waveid.WaveletName{}, fmt.Errorf("%w: %q: %w", ErrBadName, fileName, err)
	}

	return waveid.NewWaveletName(wave, wavelet), nil
}

// Store is a directory of bundle files.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created on first
// write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path for a wavelet.
func (s *Store) Path(name waveid.WaveletName) string {
	return filepath.Join(s.dir, FileName(name))
}

// Exists reports whether the wavelet has been exported.
func (s *Store) Exists(name waveid.WaveletName) (bool, error) {
	_, err := os.Stat(s.Path(name))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("bundle: checking %s: %w", name, err)
}

// Write stores data for a wavelet atomically. An existing file is replaced.
func (s *Store) Write(name waveid.WaveletName, data []byte) error {
	if err := os.MkdirAll(s.dir, dirPerms); err != nil {
		return fmt.Errorf("bundle: creating directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("bundle: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("bundle: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bundle: writing %s: %w", name, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bundle: syncing %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bundle: closing %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return fmt.Errorf("bundle: renaming %s: %w", name, err)
	}

	success = true

	return nil
}

// Read returns the stored bundle for a wavelet.
func (s *Store) Read(name waveid.WaveletName) ([]byte, error) {
	return ReadFile(s.Path(name))
}

// ReadFile reads a bundle file by path.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading %s: %w", path, err)
	}

	return data, nil
}

// Entry is one listed bundle file. Name is zero when the file name could not
// be parsed; Err then says why.
type Entry struct {
	Path string
	Name waveid.WaveletName
	Err  error
}

// List returns the bundle files in the store, sorted by file name. Files not
// ending in Suffix are ignored; files ending in Suffix with an unparsable
// name are returned with Err set so callers can count them as failures.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("bundle: listing %s: %w", s.dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), Suffix) {
			continue
		}

		name, parseErr := ParseName(de.Name())
		entries = append(entries, Entry{
			Path: filepath.Join(s.dir, de.Name()),
			Name: name,
			Err:  parseErr,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return entries, nil
}

// RawDeltas decodes the data.rawDeltas array of a bundle: base64 strings,
// each one serialized applied delta, in history order.
func RawDeltas(data []byte) ([][]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not JSON", ErrInvalid)
	}

	arr := gjson.GetBytes(data, "data.rawDeltas")
	if !arr.IsArray() {
		return nil, ErrNoDeltas
	}

	var (
		out    [][]byte
		decErr error
	)

	// Array iteration passes no key, so count positions ourselves.
	arr.ForEach(func(_, value gjson.Result) bool {
		i := len(out)

		if value.Type != gjson.String {
			decErr = fmt.Errorf("%w: rawDeltas[%d] is not a string", ErrInvalid, i)
			return false
		}

		b, err := base64.StdEncoding.DecodeString(value.Str)
		if err != nil {
			decErr = fmt.Errorf("%w: rawDeltas[%d]: %w", ErrInvalid, i, err)
			return false
		}

		out = append(out, b)

		return true
	})

	if decErr != nil {
		return nil, decErr
	}

	return out, nil
}

// Encode builds a bundle document from serialized applied deltas, in the
// same shape the source service returns.
func Encode(deltas [][]byte) []byte {
	var b strings.Builder

	b.WriteString(`{"id":"op_id","data":{"rawDeltas":[`)

	for i, d := range deltas {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteByte('"')
		b.WriteString(base64.StdEncoding.EncodeToString(d))
		b.WriteByte('"')
	}

	b.WriteString(`]}}`)

	return []byte(b.String())
}
