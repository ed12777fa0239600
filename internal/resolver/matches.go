package resolver

import (
	"ouilookup/internal/registry"
)

// Kind identifies which path served a query.
type Kind int

const (
	// MAC queries are resolved through the tiered address lookup.
	MAC Kind = iota
	// Organization queries are matched against organization names.
	Organization
)

// Informational messages returned in place of records.
const (
	InfoRandomized                = "This MAC address is randomly generated."
	InfoNoMACMatch                = "No OUI information found for the given MAC address."
	InfoNoMoreMACMatches          = "No more OUI information found for the given MAC address."
	InfoNoOrganizationMatch       = "No OUI information found for the given organization name."
	InfoNoMoreOrganizationMatches = "No more OUI information found for the given organization name."
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	switch k {
	case MAC:
		return "mac"
	case Organization:
		return "organization"
	default:
		return "unknown"
	}
}

// noMoreInfo is the message returned when a requested page lies past the end of the results.
func (k Kind) noMoreInfo() string {
	if k == Organization {
		return InfoNoMoreOrganizationMatches
	}

	return InfoNoMoreMACMatches
}

// Matches is the complete, ordered, un-paginated outcome of a query. Info is set only when Entries
// is empty.
type Matches struct {
	Kind    Kind
	Entries []registry.Entry
	Info    string
}

// Total is the number of matching entries.
func (m Matches) Total() int {
	return len(m.Entries)
}
