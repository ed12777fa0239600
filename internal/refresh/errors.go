package refresh

import (
	"fmt"

	"ouilookup/internal/registry"
)

// FetchError describes a failure to obtain a tier from its upstream source.
type FetchError struct {
	Tier   registry.Tier
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("refresh: error fetching tier: tier=%s source=%s err=%v", e.Tier, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
