package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Column headers shared by the upstream CSV files and the persisted tier files.
const (
	columnRegistry            = "Registry"
	columnAssignment          = "Assignment"
	columnOrganizationName    = "Organization Name"
	columnOrganizationAddress = "Organization Address"
)

var csvHeader = []string{
	columnRegistry,
	columnAssignment,
	columnOrganizationName,
	columnOrganizationAddress,
}

// ReadCSV parses a tier CSV with a header row. Columns are located by header name, so the upstream
// files and the persisted files share one reader. Rows whose assignment is not a hex string of the
// tier's width are dropped and counted. An input without any valid row is an error.
func ReadCSV(tier Tier, source io.Reader) ([]Entry, int, error) {
	reader := csv.NewReader(source)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("registry: error reading CSV header: tier=%s err=%v", tier, err)
	}

	columns := make(map[string]int, len(header))
	for idx, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = idx
	}

	assignmentIdx, ok := columns[columnAssignment]
	if !ok {
		return nil, 0, fmt.Errorf("registry: CSV header has no %q column: tier=%s", columnAssignment, tier)
	}

	nameIdx, ok := columns[columnOrganizationName]
	if !ok {
		return nil, 0, fmt.Errorf("registry: CSV header has no %q column: tier=%s", columnOrganizationName, tier)
	}

	addressIdx, hasAddress := columns[columnOrganizationAddress]

	var entries []Entry
	skipped := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("registry: error reading CSV row: tier=%s err=%v", tier, err)
		}

		if assignmentIdx >= len(record) || nameIdx >= len(record) {
			skipped++
			continue
		}

		assignment := strings.ToUpper(strings.TrimSpace(record[assignmentIdx]))
		if len(assignment) != tier.Width() || !isHex(assignment) {
			skipped++
			continue
		}

		entry := Entry{
			Tier:             tier,
			Assignment:       assignment,
			OrganizationName: strings.TrimSpace(record[nameIdx]),
		}
		if hasAddress && addressIdx < len(record) {
			entry.OrganizationAddress = strings.TrimSpace(record[addressIdx])
		}

		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, skipped, fmt.Errorf("registry: CSV contains no valid assignments: tier=%s skipped=%d", tier, skipped)
	}

	return entries, skipped, nil
}

// WriteCSV serializes entries with the standard four-column header.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("registry: error writing CSV header: err=%v", err)
	}

	for _, entry := range entries {
		record := []string{
			entry.Tier.String(),
			entry.Assignment,
			entry.OrganizationName,
			entry.OrganizationAddress,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("registry: error writing CSV row: assignment=%s err=%v", entry.Assignment, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// SortEntries sorts entries ascending by assignment. Entries sharing an assignment keep their
// relative order.
func SortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Assignment, b.Assignment)
	})
}

// isHex reports whether s consists only of uppercase hex digits.
func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}

	return true
}
