package registry

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// SentinelOrganization is the organization name the upstream registry assigns to MA-L blocks that
// are further subdivided into the MA-M and MA-S tiers. It is compared verbatim.
const SentinelOrganization = "IEEE Registration Authority"

// ErrIncompleteSnapshot is returned when a snapshot is built without all three tiers loaded.
var ErrIncompleteSnapshot = errors.New("registry: snapshot is missing one or more tiers")

// Entry is a single assignment in one of the registry tiers. The JSON field names follow the
// upstream CSV column headers.
type Entry struct {
	Tier                Tier   `json:"Registry"`
	Assignment          string `json:"Assignment"`
	OrganizationName    string `json:"Organization Name"`
	OrganizationAddress string `json:"Organization Address"`
}

// Snapshot is an immutable view of all three tiers, each sorted ascending by assignment.
type Snapshot struct {
	tiers       [tierCount][]Entry
	folded      [tierCount][]string
	lastUpdated time.Time
	dataDir     string
}

// Entries returns the sorted entries of a tier. The returned slice is shared by every reader of the
// snapshot and must not be modified.
func (s *Snapshot) Entries(tier Tier) []Entry {
	if !tier.Valid() {
		return nil
	}

	return s.tiers[tier]
}

// FoldedNames returns the lowercased organization names of a tier, index-aligned with Entries.
// The returned slice must not be modified.
func (s *Snapshot) FoldedNames(tier Tier) []string {
	if !tier.Valid() {
		return nil
	}

	return s.folded[tier]
}

// Len returns the total number of entries across all tiers.
func (s *Snapshot) Len() int {
	total := 0
	for _, entries := range s.tiers {
		total += len(entries)
	}

	return total
}

// LastUpdated is the time at which the snapshot's data was downloaded from upstream.
func (s *Snapshot) LastUpdated() time.Time {
	return s.lastUpdated
}

// DataDir is the directory in which the snapshot is persisted.
func (s *Snapshot) DataDir() string {
	return s.dataDir
}

// Builder accumulates parsed tiers until a complete snapshot can be produced.
type Builder struct {
	tiers   map[Tier][]Entry
	skipped map[Tier]int
}

// NewBuilder creates an empty snapshot builder.
func NewBuilder() *Builder {
	return &Builder{
		tiers:   make(map[Tier][]Entry),
		skipped: make(map[Tier]int),
	}
}

// Load parses a tier's CSV from source and stages it, sorted, for the next Build. Loading the same
// tier twice replaces the earlier result.
func (b *Builder) Load(tier Tier, source io.Reader) error {
	if !tier.Valid() {
		return fmt.Errorf("registry: unknown tier: tier=%d", int(tier))
	}

	entries, skipped, err := ReadCSV(tier, source)
	if err != nil {
		return err
	}

	return b.Add(tier, entries, skipped)
}

// Add stages already parsed entries of a tier, sorting them in place.
func (b *Builder) Add(tier Tier, entries []Entry, skipped int) error {
	if !tier.Valid() {
		return fmt.Errorf("registry: unknown tier: tier=%d", int(tier))
	}

	SortEntries(entries)

	b.tiers[tier] = entries
	b.skipped[tier] = skipped

	return nil
}

// Entries returns the staged entries of a tier, or nil if it has not been loaded.
func (b *Builder) Entries(tier Tier) []Entry {
	return b.tiers[tier]
}

// Skipped returns the number of malformed rows dropped while loading a tier.
func (b *Builder) Skipped(tier Tier) int {
	return b.skipped[tier]
}

// Build produces a snapshot from the staged tiers. It fails with ErrIncompleteSnapshot unless all
// three tiers have been loaded.
func (b *Builder) Build(lastUpdated time.Time, dataDir string) (*Snapshot, error) {
	snapshot := &Snapshot{
		lastUpdated: lastUpdated.UTC().Truncate(time.Second),
		dataDir:     dataDir,
	}

	for _, tier := range Tiers {
		entries, ok := b.tiers[tier]
		if !ok {
			return nil, fmt.Errorf("%w: tier=%s", ErrIncompleteSnapshot, tier)
		}

		folded := make([]string, len(entries))
		for idx, entry := range entries {
			folded[idx] = strings.ToLower(entry.OrganizationName)
		}

		snapshot.tiers[tier] = entries
		snapshot.folded[tier] = folded
	}

	return snapshot, nil
}

// Store publishes the live snapshot. The zero value is an empty store ready for use.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns the live snapshot, or nil if none has been installed yet.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Install atomically replaces the live snapshot. Readers holding the previous snapshot keep a
// consistent view of it.
func (s *Store) Install(snapshot *Snapshot) {
	if snapshot == nil {
		return
	}

	s.current.Store(snapshot)
}
