// Package users serves the user presence table and profile pictures.
package users

import (
	"context"
	"sort"
	"strings"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
)

// API is the subset of the EMIS client the users page calls.
type API interface {
	ListUsers(ctx context.Context, token string) ([]emisapi.User, error)
	ProfilePicture(ctx context.Context, token, userID string) (*emisapi.Download, error)
}

// Service handles user listing.
type Service struct {
	api API
}

// NewService builds Service instance.
func NewService(api API) *Service {
	return &Service{api: api}
}

// List filters all users by query and returns the requested page. Online
// users sort first, then by name.
func (s *Service) List(ctx context.Context, token, query string, state *shared.PageState) (Listing, error) {
	all, err := s.api.ListUsers(ctx, token)
	if err != nil {
		return Listing{}, err
	}
	matched := make([]emisapi.User, 0, len(all))
	for _, u := range all {
		if Matches(u, query) {
			matched = append(matched, u)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].IsOnline != matched[j].IsOnline {
			return matched[i].IsOnline
		}
		return strings.ToLower(matched[i].DisplayName()) < strings.ToLower(matched[j].DisplayName())
	})
	state.SetTotal(len(matched))
	return Listing{
		Rows:   shared.Paginate(matched, state.Page, state.Size),
		Window: state.Window(),
	}, nil
}

// ProfilePicture opens the stored picture of userID.
func (s *Service) ProfilePicture(ctx context.Context, token, userID string) (*emisapi.Download, error) {
	return s.api.ProfilePicture(ctx, token, userID)
}
