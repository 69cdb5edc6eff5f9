package users

import (
	"strings"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
)

// Listing is one page of the presence table.
type Listing struct {
	Rows   []emisapi.User
	Window shared.PageWindow
}

// Matches reports whether the user's name or email contains query,
// ignoring case. An empty query matches everyone.
func Matches(u emisapi.User, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, field := range []string{u.DisplayName(), u.Firstname, u.Lastname, u.Email} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
