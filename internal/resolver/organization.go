package resolver

import (
	"strings"

	"ouilookup/internal/registry"
)

// SearchOrganization returns every entry whose organization name contains query, compared
// case-insensitively as a literal substring. Matches are ordered MA-L, then MA-M, then MA-S, each
// in assignment order.
func SearchOrganization(snapshot *registry.Snapshot, query string) Matches {
	needle := strings.ToLower(query)

	var entries []registry.Entry
	for _, tier := range registry.Tiers {
		tierEntries := snapshot.Entries(tier)
		for idx, name := range snapshot.FoldedNames(tier) {
			if strings.Contains(name, needle) {
				entries = append(entries, tierEntries[idx])
			}
		}
	}

	if len(entries) == 0 {
		return Matches{Kind: Organization, Info: InfoNoOrganizationMatch}
	}

	return Matches{Kind: Organization, Entries: entries}
}
