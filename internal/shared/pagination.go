package shared

import "fmt"

// DefaultPageSize is used when a caller supplies no usable size.
const DefaultPageSize = 10

// NavState reports which pager controls are disabled.
type NavState struct {
	FirstDisabled bool
	PrevDisabled  bool
	NextDisabled  bool
	LastDisabled  bool
}

// PageWindow is the computed view of one page over Total records.
// StartIndex is the 0-based offset of the first row; EndIndex is exclusive.
type PageWindow struct {
	Total      int
	Size       int
	TotalPages int
	Page       int
	StartIndex int
	EndIndex   int
	Nav        NavState
}

// ComputePageWindow derives page bounds and navigation affordances.
// With zero records every control is disabled and TotalPages is 0.
func ComputePageWindow(totalRecords, page, size int) PageWindow {
	if size < 1 {
		size = 1
	}
	if page < 1 {
		page = 1
	}
	if totalRecords <= 0 {
		return PageWindow{
			Size: size,
			Page: 1,
			Nav:  NavState{FirstDisabled: true, PrevDisabled: true, NextDisabled: true, LastDisabled: true},
		}
	}
	totalPages := (totalRecords + size - 1) / size
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * size
	end := start + size
	if end > totalRecords {
		end = totalRecords
	}
	atFirst := page == 1
	atLast := page == totalPages
	return PageWindow{
		Total:      totalRecords,
		Size:       size,
		TotalPages: totalPages,
		Page:       page,
		StartIndex: start,
		EndIndex:   end,
		Nav: NavState{
			FirstDisabled: atFirst,
			PrevDisabled:  atFirst,
			NextDisabled:  atLast,
			LastDisabled:  atLast,
		},
	}
}

// Status renders the window for the pager status line.
func (w PageWindow) Status() string {
	if w.Total == 0 {
		return "No entries"
	}
	return fmt.Sprintf("Showing %d to %d of %d entries", w.StartIndex+1, w.EndIndex, w.Total)
}

// PrevPage is the page before the current one, never below 1.
func (w PageWindow) PrevPage() int {
	if w.Page <= 1 {
		return 1
	}
	return w.Page - 1
}

// NextPage is the page after the current one, never past the last page.
func (w PageWindow) NextPage() int {
	if w.Page >= w.TotalPages {
		return w.Page
	}
	return w.Page + 1
}

// LastPage is the last navigable page (1 when there are no records).
func (w PageWindow) LastPage() int {
	if w.TotalPages < 1 {
		return 1
	}
	return w.TotalPages
}

// Paginate returns the size-length slice of items starting at (page-1)*size.
func Paginate[T any](items []T, page, size int) []T {
	if size < 1 {
		size = 1
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if len(items) == 0 || start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// PageState is the pager state owned by a single controller invocation.
// Controllers pass it by reference to the fetch and render steps.
type PageState struct {
	Page  int
	Size  int
	Total int
}

// NewPageState builds a state with coerced page and size.
func NewPageState(page, size int) *PageState {
	s := &PageState{Page: page, Size: size}
	s.normalize()
	return s
}

func (s *PageState) normalize() {
	if s.Size < 1 {
		s.Size = DefaultPageSize
	}
	if s.Page < 1 {
		s.Page = 1
	}
}

// SetTotal records the record count and clamps the current page.
func (s *PageState) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	s.Total = total
	s.Page = s.Window().Page
}

// SetSize changes the page size and returns to the first page.
func (s *PageState) SetSize(size int) {
	s.Size = size
	s.Page = 1
	s.normalize()
}

// GoTo moves to page, clamped into range once the total is known.
func (s *PageState) GoTo(page int) {
	s.Page = page
	s.normalize()
	if s.Total > 0 {
		s.Page = s.Window().Page
	}
}

// Offset is the 0-based index of the first row on the current page.
func (s *PageState) Offset() int {
	return (s.Page - 1) * s.Size
}

// Window computes the PageWindow for the current state.
func (s *PageState) Window() PageWindow {
	return ComputePageWindow(s.Total, s.Page, s.Size)
}
