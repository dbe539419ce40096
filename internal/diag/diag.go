// Package diag defines the diagnostic finding types shared between
// sessions and the aggregation facets.
package diag

import "fmt"

// Severity classifies a finding. It is the category the count facet
// sums over.
type Severity string

// Severity levels, mirroring what analysis backends report.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Location is one immutable analysis finding. The aggregation facets
// treat it as opaque data and only read File and Severity for grouping.
type Location struct {
	File     string   `json:"file"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
}

// String renders a finding the way the CLI prints it.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", l.File, l.Line, l.Column, l.Severity, l.Message)
}

// Snapshot is what one session's diagnostics stream carries: either the
// current findings or the error that made them unavailable. A snapshot
// with Err set contributes no findings to any facet.
type Snapshot struct {
	Items []Location
	Err   error
}

// CountBySeverity sums findings per severity.
func CountBySeverity(items []Location) map[Severity]int {
	counts := make(map[Severity]int)
	for _, l := range items {
		counts[l.Severity]++
	}
	return counts
}

// GroupByFile buckets findings by file, preserving input order within
// each bucket.
func GroupByFile(items []Location) map[string][]Location {
	byFile := make(map[string][]Location)
	for _, l := range items {
		byFile[l.File] = append(byFile[l.File], l)
	}
	return byFile
}
