package resolver

import (
	"sort"
	"strings"

	"ouilookup/internal/registry"
)

// randomizedNibbles are the values of the second hex digit that mark a locally administered
// address.
const randomizedNibbles = "26AE"

// ResolveMAC resolves a hardware address query through the registry tiers.
//
// The MA-L tier is consulted first with the leading six hex digits. If it has no match, or the
// first match is the sentinel organization that sub-delegates its block, the MA-L result is
// discarded in favor of the MA-M matches (up to seven digits) followed by the MA-S matches (up to
// nine digits). An empty result carries an informational message instead of records.
//
// ResolveMAC fails with ErrInvalidQueryLength or ErrNotAMacAddress when the query is not shaped
// like a hardware address; callers fall back to SearchOrganization in that case.
func ResolveMAC(snapshot *registry.Snapshot, query string) (Matches, error) {
	if n := len(query); n < minQueryLength || n > maxQueryLength {
		return Matches{}, ErrInvalidQueryLength
	}

	mac, err := Normalize(query)
	if err != nil {
		return Matches{}, err
	}

	// Separator-heavy input such as "12-34-" leaves too few digits for an MA-L key; search it as a name.
	if len(mac) < registry.MAL.Width() {
		return Matches{}, ErrInvalidQueryLength
	}

	entries := matchPrefix(snapshot.Entries(registry.MAL), keyFor(mac, registry.MAL))

	if len(entries) == 0 || entries[0].OrganizationName == registry.SentinelOrganization {
		entries = append(
			matchPrefix(snapshot.Entries(registry.MAM), keyFor(mac, registry.MAM)),
			matchPrefix(snapshot.Entries(registry.MAS), keyFor(mac, registry.MAS))...,
		)
	}

	if len(entries) == 0 {
		info := InfoNoMACMatch
		if strings.IndexByte(randomizedNibbles, mac[1]) >= 0 {
			info = InfoRandomized
		}

		return Matches{Kind: MAC, Info: info}, nil
	}

	return Matches{Kind: MAC, Entries: entries}, nil
}

// keyFor truncates a normalized address to the assignment width of a tier.
func keyFor(mac string, tier registry.Tier) string {
	if len(mac) > tier.Width() {
		return mac[:tier.Width()]
	}

	return mac
}

// matchPrefix returns the entries of a sorted tier whose assignment starts with key. For a key as
// wide as the tier this is exact equality. The returned slice has no spare capacity, so appending
// to it never writes into the tier.
func matchPrefix(entries []registry.Entry, key string) []registry.Entry {
	lo := sort.Search(len(entries), func(i int) bool {
		return entries[i].Assignment >= key
	})

	hi := lo
	for hi < len(entries) && strings.HasPrefix(entries[hi].Assignment, key) {
		hi++
	}

	if lo == hi {
		return nil
	}

	return entries[lo:hi:hi]
}
