package resolver

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidQueryLength is returned for queries that are too short or too long to be a
	// hardware address.
	ErrInvalidQueryLength = errors.New("resolver: query length does not fit a hardware address")
	// ErrNotAMacAddress is returned for queries that contain anything but hex digits and
	// separators.
	ErrNotAMacAddress = errors.New("resolver: query is not a hardware address")
	// ErrNotReady is returned while the registry is initializing.
	ErrNotReady = errors.New("resolver: registry is not ready")
)

const (
	// MaxAddressLength is the number of hex digits in a 48-bit hardware address.
	MaxAddressLength = 12
	// minQueryLength and maxQueryLength bound the raw query, separators included.
	minQueryLength = 6
	maxQueryLength = 17
)

var separatorStripper = strings.NewReplacer(":", "", "-", "")

// Normalize strips ":" and "-" separators from input and uppercases it. It fails with
// ErrNotAMacAddress if the result is empty, longer than MaxAddressLength, or contains a character
// other than 0-9 and A-F.
func Normalize(input string) (string, error) {
	mac := strings.ToUpper(separatorStripper.Replace(input))

	if len(mac) == 0 || len(mac) > MaxAddressLength {
		return "", ErrNotAMacAddress
	}

	for i := 0; i < len(mac); i++ {
		c := mac[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return "", ErrNotAMacAddress
		}
	}

	return mac, nil
}
