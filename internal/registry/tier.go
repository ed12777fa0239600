//go:generate go run golang.org/x/tools/cmd/stringer -type=Tier -linecomment=true

package registry

import (
	"fmt"
	"strings"
)

// Tier is an IEEE registration class.
type Tier int

const (
	// MAL is the 24-bit MA-L block (the classic OUI).
	MAL Tier = iota // MA-L
	// MAM is the 28-bit MA-M block.
	MAM // MA-M
	// MAS is the 36-bit MA-S block.
	MAS // MA-S
)

// tierCount is the number of known tiers.
const tierCount = 3

// Tiers lists every tier in resolution and merge order.
var Tiers = []Tier{MAL, MAM, MAS}

// Width is the number of hex characters in an assignment of this tier.
func (t Tier) Width() int {
	switch t {
	case MAL:
		return 6
	case MAM:
		return 7
	case MAS:
		return 9
	default:
		return 0
	}
}

// FileName is the name of the tier's CSV file inside a data directory.
func (t Tier) FileName() string {
	return strings.ToLower(strings.ReplaceAll(t.String(), "-", "")) + ".csv"
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= MAL && t <= MAS
}

// MarshalText encodes the tier as its registry name, e.g. "MA-L".
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("registry: unknown tier: tier=%d", int(t))
	}

	return []byte(t.String()), nil
}

// UnmarshalText decodes a registry name produced by MarshalText.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, ok := ParseTier(string(text))
	if !ok {
		return fmt.Errorf("registry: unknown tier: name=%s", text)
	}

	*t = parsed
	return nil
}

// ParseTier looks up a tier by its registry name, case-insensitively.
func ParseTier(name string) (Tier, bool) {
	for _, tier := range Tiers {
		if strings.EqualFold(strings.TrimSpace(name), tier.String()) {
			return tier, true
		}
	}

	return MAL, false
}
