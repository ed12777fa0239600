package resolver

import (
	"ouilookup/internal/registry"
)

// DefaultLimit is the page size used when a page is requested without a limit.
const DefaultLimit = 10

// Page selects a window of a result set. The zero value selects everything.
type Page struct {
	// Number is the 1-based page index; zero disables pagination.
	Number int
	// Limit is the page size.
	Limit int
}

// NewPage derives a page from optional request parameters. A limit without a page selects the
// first page, a page without a limit uses defaultLimit, a page below 1 is clamped to 1 and a limit
// below 1 is replaced by defaultLimit. With neither parameter the result is not paginated.
func NewPage(page, limit *int, defaultLimit int) Page {
	if defaultLimit < 1 {
		defaultLimit = DefaultLimit
	}

	if page == nil && limit == nil {
		return Page{}
	}

	p := Page{Number: 1, Limit: defaultLimit}
	if page != nil && *page > 1 {
		p.Number = *page
	}
	if limit != nil && *limit >= 1 {
		p.Limit = *limit
	}

	return p
}

// Paged reports whether the page restricts the result set.
func (p Page) Paged() bool {
	return p.Number > 0 && p.Limit > 0
}

// Result is the response shape of a resolved query.
type Result struct {
	Count int              `json:"count"`
	Total int              `json:"total,omitempty"`
	Data  []registry.Entry `json:"data,omitempty"`
	Info  string           `json:"info,omitempty"`
}

// Paginate slices matches to page. A page past the end of a non-empty set yields a zero count with
// the "no more" message of the query kind.
func Paginate(matches Matches, page Page) Result {
	total := matches.Total()
	if total == 0 {
		return Result{Count: 0, Info: matches.Info}
	}

	data := matches.Entries
	if page.Paged() {
		// Limits come straight from the query string and may be close to MaxInt.
		pages := total / page.Limit
		if total%page.Limit != 0 {
			pages++
		}
		if page.Number > pages {
			return Result{Count: 0, Total: total, Info: matches.Kind.noMoreInfo()}
		}

		start := (page.Number - 1) * page.Limit
		end := total
		if page.Limit < total-start {
			end = start + page.Limit
		}

		data = data[start:end]
	}

	return Result{Count: len(data), Total: total, Data: data}
}
