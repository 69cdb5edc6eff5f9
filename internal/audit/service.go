// Package audit reads the EMIS audit log for display and export.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/shared"
)

const (
	// DefaultLimit is the page size when none is requested.
	DefaultLimit = 20
	// MaxLimit caps the page size sent upstream.
	MaxLimit = 100

	systemActor = "System"
)

// Actions lists the recognised audit actions in display order.
var Actions = []string{emisapi.ActionCreate, emisapi.ActionUpdate, emisapi.ActionDelete}

// ErrNotConfigured is returned when the service has no API client.
var ErrNotConfigured = errors.New("audit: api not configured")

// API is the subset of the EMIS client the audit log reads.
type API interface {
	AuditLogs(ctx context.Context, token string, q emisapi.AuditQuery) (emisapi.AuditPage, error)
	SearchAudit(ctx context.Context, token, query string) ([]emisapi.AuditEntry, error)
}

// Service coordinates audit log retrieval.
type Service struct {
	api API
}

// NewService creates a new audit service.
func NewService(api API) *Service {
	return &Service{api: api}
}

// Timeline returns one page of audit entries. Filters without a query page
// on the server; a query searches and pages the matches locally.
func (s *Service) Timeline(ctx context.Context, token string, filters Filters) (Result, error) {
	if s.api == nil {
		return Result{}, ErrNotConfigured
	}
	filters = normalize(filters)
	if filters.Query != "" {
		return s.search(ctx, token, filters)
	}

	page, err := s.api.AuditLogs(ctx, token, query(filters))
	if err != nil {
		return Result{}, err
	}
	window := shared.ComputePageWindow(page.Total, filters.Page, filters.Limit)
	if page.Total > 0 && window.Page != filters.Page {
		// Requested page is past the end: show the last one instead.
		filters.Page = window.Page
		if page, err = s.api.AuditLogs(ctx, token, query(filters)); err != nil {
			return Result{}, err
		}
		window = shared.ComputePageWindow(page.Total, filters.Page, filters.Limit)
	}
	return Result{Rows: mapRows(page.Logs), Window: window}, nil
}

func (s *Service) search(ctx context.Context, token string, filters Filters) (Result, error) {
	entries, err := s.api.SearchAudit(ctx, token, filters.Query)
	if err != nil {
		return Result{}, err
	}
	if filters.Action != "" || filters.CollectionName != "" {
		kept := entries[:0:0]
		for _, e := range entries {
			if filters.Action != "" && !strings.EqualFold(e.Action, filters.Action) {
				continue
			}
			if filters.CollectionName != "" && e.CollectionName != filters.CollectionName {
				continue
			}
			kept = append(kept, e)
		}
		entries = kept
	}
	window := shared.ComputePageWindow(len(entries), filters.Page, filters.Limit)
	return Result{
		Rows:   mapRows(shared.Paginate(entries, window.Page, filters.Limit)),
		Window: window,
	}, nil
}

func normalize(f Filters) Filters {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	f.Action = strings.ToUpper(strings.TrimSpace(f.Action))
	f.CollectionName = strings.TrimSpace(f.CollectionName)
	f.Query = strings.TrimSpace(f.Query)
	return f
}

func query(f Filters) emisapi.AuditQuery {
	return emisapi.AuditQuery{
		Page:           f.Page,
		Limit:          f.Limit,
		Action:         f.Action,
		CollectionName: f.CollectionName,
	}
}

func mapRows(entries []emisapi.AuditEntry) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, MapEntry(e))
	}
	return rows
}

// MapEntry prepares one audit entry for display.
func MapEntry(e emisapi.AuditEntry) Row {
	row := Row{
		At:         e.Timestamp,
		Actor:      systemActor,
		Action:     strings.ToUpper(e.Action),
		Collection: e.CollectionName,
		AccountNo:  e.AccountNo,
	}
	if e.User != nil {
		name := strings.TrimSpace(strings.TrimSpace(e.User.Firstname) + " " + strings.TrimSpace(e.User.Lastname))
		if name == "" {
			name = e.User.Email
		}
		if name != "" {
			row.Actor = name
		}
		row.ActorEmail = e.User.Email
	}
	if row.Action == emisapi.ActionUpdate {
		if fields, ok := updateFields(e.Changes); ok {
			row.Update = true
			row.Fields = fields
			return row
		}
	}
	row.Fields = documentFields(e.Changes)
	return row
}

type change struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
}

func updateFields(raw json.RawMessage) ([]Field, bool) {
	var changes map[string]change
	if err := json.Unmarshal(raw, &changes); err != nil {
		return nil, false
	}
	fields := make([]Field, 0, len(changes))
	for _, name := range sortedKeys(changes) {
		c := changes[name]
		fields = append(fields, Field{Name: name, Before: renderValue(c.Before), After: renderValue(c.After)})
	}
	return fields, true
}

func documentFields(raw json.RawMessage) []Field {
	if len(raw) == 0 {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Field{{Name: "changes", Value: renderValue(raw)}}
	}
	fields := make([]Field, 0, len(doc))
	for _, name := range sortedKeys(doc) {
		fields = append(fields, Field{Name: name, Value: renderValue(doc[name])})
	}
	return fields
}

// renderValue prints strings bare, null and missing as empty and anything
// else as compact JSON.
func renderValue(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
