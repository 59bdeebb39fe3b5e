package extract

import (
	"context"
	"fmt"
)

// Item is one line item as reported by the extraction backend. Numeric-looking
// fields stay strings here; normalization to integers happens at persistence
// time (see ParseAmount / ParseCount).
type Item struct {
	ManagementID string `json:"management_id"`
	Customer     string `json:"customer"`
	ProductName  string `json:"product_name"`
	Quantity     string `json:"quantity"`
	CaseCount    string `json:"case_count"`
	BaraCount    string `json:"bara_count"`
	UnitsPerCase string `json:"units_per_case"`
	Amount       string `json:"amount"`
}

// PageResult is the structured output for one page. Document metadata
// (issuer, issue_date, billing_period) is present at least on the first page.
type PageResult struct {
	PageRole      string `json:"page_role"`
	Issuer        string `json:"issuer"`
	IssueDate     string `json:"issue_date"`
	BillingPeriod string `json:"billing_period"`
	Customer      string `json:"customer"`
	Items         []Item `json:"items"`
}

// ProgressFunc reports per-page progress. page is 1-based.
type ProgressFunc func(page, total int, message string)

// Request identifies the document to extract.
type Request struct {
	Document string // stable name, extension stripped
	Path     string // PDF location on disk
	DPI      int
	Progress ProgressFunc // optional
}

// Extractor turns a PDF into an ordered sequence of page results plus
// co-indexed rendered page images (nil entry = render failed for that page).
// Any returned error is fatal to the whole document; callers must not commit
// partial results.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]PageResult, [][]byte, error)
}

// Error is a pipeline failure carrying the page it occurred on (0-based,
// -1 when the failure is not page-specific).
type Error struct {
	Page   int
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("extraction failed at page %d: %s", e.Page+1, e.Reason)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }
