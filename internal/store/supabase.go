package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"smartcal/internal/model"
)

// Supabase stores events in a PostgREST table with one row per event.
// Rows are filtered by ownerId; the service key bypasses row-level
// security, so the filter is the ownership boundary.
type Supabase struct {
	client *supabase.Client
	table  string
}

func NewSupabase(client *supabase.Client, table string) *Supabase {
	if table == "" {
		table = "events"
	}
	return &Supabase{client: client, table: table}
}

// NewSupabaseClient builds the shared client used by both the store and
// the auth provider.
func NewSupabaseClient(url, key string) (*supabase.Client, error) {
	c, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return c, nil
}

func (s *Supabase) Name() string { return "supabase" }

// postgrest-go does not take a context; calls are bounded by the
// client's HTTP timeout.
func (s *Supabase) List(_ context.Context, owner string) ([]model.CalendarEvent, error) {
	var rows []model.CalendarEvent
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("ownerId", owner).
		Order("createdAt", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase list: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows, nil
}

func (s *Supabase) Insert(_ context.Context, ev model.CalendarEvent) error {
	var rows []model.CalendarEvent
	_, err := s.client.From(s.table).
		Insert(ev, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("supabase insert: %w", err)
	}
	return nil
}

func (s *Supabase) Update(_ context.Context, owner string, ev model.CalendarEvent) error {
	patch := map[string]any{
		"title":       ev.Title,
		"description": ev.Description,
		"color":       ev.Color,
		"date":        ev.Date,
	}
	var rows []model.CalendarEvent
	_, err := s.client.From(s.table).
		Update(patch, "representation", "").
		Eq("id", ev.ID).
		Eq("ownerId", owner).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("supabase update: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Supabase) Delete(_ context.Context, owner, id string) error {
	_, _, err := s.client.From(s.table).
		Delete("minimal", "").
		Eq("id", id).
		Eq("ownerId", owner).
		Execute()
	if err != nil {
		return fmt.Errorf("supabase delete: %w", err)
	}
	return nil
}
