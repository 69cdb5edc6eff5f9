package audit

import (
	"time"

	"github.com/lgu-emis/emis-web/internal/shared"
)

// Filters selects the audit entries of one page.
type Filters struct {
	Page           int
	Limit          int
	Action         string
	CollectionName string
	// Query switches to the full-text search endpoint, paged locally.
	Query string
}

// Field is one rendered line of an entry's changes. Update lines carry
// Before and After; document lines carry Value.
type Field struct {
	Name   string
	Value  string
	Before string
	After  string
}

// Row is one audit entry prepared for display and export.
type Row struct {
	At         time.Time
	Actor      string
	ActorEmail string
	Action     string
	Collection string
	AccountNo  string
	Update     bool
	Fields     []Field
}

// Result is one page of rows with its window over all matches.
type Result struct {
	Rows   []Row
	Window shared.PageWindow
}
