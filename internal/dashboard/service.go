// Package dashboard serves the business statistics page of a registry year.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

// API is the subset of the EMIS client the dashboard calls.
type API interface {
	BusinessStats(ctx context.Context, token string, year int) (emisapi.BusinessStats, error)
	BusinessMap(ctx context.Context, token string, year int) ([]emisapi.MapPoint, error)
}

// Overview is everything the dashboard shows for one year.
type Overview struct {
	Year  int
	Stats emisapi.BusinessStats
	Map   []emisapi.MapPoint
}

// Service loads dashboard data through the shared cache.
type Service struct {
	api   API
	cache *Cache
	group singleflight.Group
}

// NewService constructs the dashboard service. cache may be nil.
func NewService(api API, cache *Cache) *Service {
	return &Service{api: api, cache: cache}
}

// Overview fetches stats and map points for year concurrently.
func (s *Service) Overview(ctx context.Context, token string, year int) (Overview, error) {
	out := Overview{Year: year}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.Stats(gctx, token, year)
		out.Stats = stats
		return err
	})
	g.Go(func() error {
		points, err := s.Map(gctx, token, year)
		out.Map = points
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{Year: year}, err
	}
	return out, nil
}

// Stats returns the aggregate statistics of year.
func (s *Service) Stats(ctx context.Context, token string, year int) (emisapi.BusinessStats, error) {
	var stats emisapi.BusinessStats
	err := s.cached(ctx, "stats", year, &stats, func(ctx context.Context) (any, error) {
		return s.api.BusinessStats(ctx, token, year)
	})
	return stats, err
}

// Map returns the barangay map points of year.
func (s *Service) Map(ctx context.Context, token string, year int) ([]emisapi.MapPoint, error) {
	var points []emisapi.MapPoint
	err := s.cached(ctx, "map", year, &points, func(ctx context.Context) (any, error) {
		return s.api.BusinessMap(ctx, token, year)
	})
	return points, err
}

// Refresh drops every cached year.
func (s *Service) Refresh(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) cached(ctx context.Context, kind string, year int, dest any, loader func(context.Context) (any, error)) error {
	key, err := s.cache.BuildKey(ctx, kind, strconv.Itoa(year))
	if err != nil {
		key = fmt.Sprintf("dashboard:%s:%d", kind, year)
	}
	// Concurrent requests for the same key share one upstream call.
	v, err, _ := s.group.Do(key, func() (any, error) {
		var raw json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), dest)
}
