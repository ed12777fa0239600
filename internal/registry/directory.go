package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MarkerFileName is the name of the file holding the UTC epoch-seconds timestamp of the last
// successful download.
const MarkerFileName = "last_update.txt"

var (
	// ErrNoMarker is returned when the data directory has no timestamp marker.
	ErrNoMarker = errors.New("registry: no timestamp marker")
	// ErrInvalidMarker is returned when the timestamp marker cannot be parsed.
	ErrInvalidMarker = errors.New("registry: invalid timestamp marker")
)

// Directory is the flat on-disk snapshot layout: one CSV per tier and a timestamp marker.
type Directory struct {
	path string
}

// NewDirectory creates a handle on the data directory at path. The directory need not exist yet.
func NewDirectory(path string) *Directory {
	return &Directory{path: path}
}

// Path returns the directory path.
func (d *Directory) Path() string {
	return d.path
}

// Ensure creates the directory if it does not exist.
func (d *Directory) Ensure() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("registry: error creating data directory: path=%s err=%v", d.path, err)
	}

	return nil
}

// TierPath returns the path of a tier's CSV file.
func (d *Directory) TierPath(tier Tier) string {
	return filepath.Join(d.path, tier.FileName())
}

// MarkerPath returns the path of the timestamp marker.
func (d *Directory) MarkerPath() string {
	return filepath.Join(d.path, MarkerFileName)
}

// HasAllTiers reports whether every tier file exists as a regular file.
func (d *Directory) HasAllTiers() bool {
	for _, tier := range Tiers {
		info, err := os.Stat(d.TierPath(tier))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}

	return true
}

// ReadMarker returns the timestamp recorded in the marker file. It returns ErrNoMarker if the file
// is absent and wraps ErrInvalidMarker if its contents are not an integer.
func (d *Directory) ReadMarker() (time.Time, error) {
	data, err := os.ReadFile(d.MarkerPath())
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrNoMarker
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("registry: error reading timestamp marker: err=%v", err)
	}

	seconds, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: contents=%q", ErrInvalidMarker, strings.TrimSpace(string(data)))
	}

	return time.Unix(seconds, 0).UTC(), nil
}

// WriteMarker records t, truncated to seconds, in the marker file.
func (d *Directory) WriteMarker(t time.Time) error {
	return d.writeAtomic(MarkerFileName, func(w io.Writer) error {
		_, err := io.WriteString(w, strconv.FormatInt(t.UTC().Unix(), 10))
		return err
	})
}

// RemoveMarker deletes the marker file. A missing marker is not an error.
func (d *Directory) RemoveMarker() error {
	if err := os.Remove(d.MarkerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("registry: error removing timestamp marker: err=%v", err)
	}

	return nil
}

// WriteTier persists a tier's entries, replacing any previous file atomically.
func (d *Directory) WriteTier(tier Tier, entries []Entry) error {
	return d.writeAtomic(tier.FileName(), func(w io.Writer) error {
		return WriteCSV(w, entries)
	})
}

// OpenTier opens a tier's CSV file for reading.
func (d *Directory) OpenTier(tier Tier) (io.ReadCloser, error) {
	file, err := os.Open(d.TierPath(tier))
	if err != nil {
		return nil, fmt.Errorf("registry: error opening tier file: tier=%s err=%v", tier, err)
	}

	return file, nil
}

// Load reads all three tier files and the marker into a snapshot.
func (d *Directory) Load() (*Snapshot, error) {
	lastUpdated, err := d.ReadMarker()
	if err != nil {
		return nil, err
	}

	builder := NewBuilder()
	for _, tier := range Tiers {
		if err := d.loadTier(builder, tier); err != nil {
			return nil, err
		}
	}

	return builder.Build(lastUpdated, d.path)
}

// loadTier stages a single tier file into builder.
func (d *Directory) loadTier(builder *Builder, tier Tier) error {
	file, err := d.OpenTier(tier)
	if err != nil {
		return err
	}
	defer file.Close()

	return builder.Load(tier, bufio.NewReader(file))
}

// writeAtomic writes a file in the directory through a temporary file and a rename, so readers
// (including other processes) never observe a partially written file.
func (d *Directory) writeAtomic(name string, write func(w io.Writer) error) error {
	if err := d.Ensure(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("registry: error creating temporary file: name=%s err=%v", name, err)
	}
	defer os.Remove(tmp.Name())

	buffered := bufio.NewWriter(tmp)
	if err := write(buffered); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: error writing file: name=%s err=%v", name, err)
	}

	if err := buffered.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: error flushing file: name=%s err=%v", name, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: error closing file: name=%s err=%v", name, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("registry: error replacing file: name=%s err=%v", name, err)
	}

	return nil
}
