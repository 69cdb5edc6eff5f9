package view

import (
	"net/url"
	"strconv"

	"github.com/lgu-emis/emis-web/internal/shared"
)

// Pager is the template model of the pagination controls.
type Pager struct {
	Window   shared.PageWindow
	Status   string
	FirstURL string
	PrevURL  string
	NextURL  string
	LastURL  string
}

// NewPager links each control to path with query, replacing the page
// parameter. Disabled controls get an empty URL.
func NewPager(window shared.PageWindow, path string, query url.Values) Pager {
	link := func(page int, disabled bool) string {
		if disabled {
			return ""
		}
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		q.Set("page", strconv.Itoa(page))
		return path + "?" + q.Encode()
	}
	return Pager{
		Window:   window,
		Status:   window.Status(),
		FirstURL: link(1, window.Nav.FirstDisabled),
		PrevURL:  link(window.PrevPage(), window.Nav.PrevDisabled),
		NextURL:  link(window.NextPage(), window.Nav.NextDisabled),
		LastURL:  link(window.LastPage(), window.Nav.LastDisabled),
	}
}
