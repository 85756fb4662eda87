package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/model"
)

// fakePostgREST serves just enough of PostgREST for the events table:
// eq filters on id/ownerId and JSON bodies in both directions.
type fakePostgREST struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (f *fakePostgREST) matches(row map[string]any, q map[string][]string) bool {
	for _, col := range []string{"id", "ownerId"} {
		v := q[col]
		if len(v) == 0 {
			continue
		}
		if "eq."+toString(row[col]) != v[0] {
			return false
		}
	}
	return true
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/events") {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	out := []map[string]any{}
	switch r.Method {
	case http.MethodGet:
		for _, row := range f.rows {
			if f.matches(row, q) {
				out = append(out, row)
			}
		}
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var row map[string]any
		if err := json.Unmarshal(body, &row); err != nil {
			http.Error(w, `{"message":"bad body"}`, http.StatusBadRequest)
			return
		}
		f.rows = append(f.rows, row)
		out = append(out, row)
	case http.MethodPatch:
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		for _, row := range f.rows {
			if f.matches(row, q) {
				for k, v := range patch {
					row[k] = v
				}
				out = append(out, row)
			}
		}
	case http.MethodDelete:
		kept := f.rows[:0]
		for _, row := range f.rows {
			if !f.matches(row, q) {
				kept = append(kept, row)
			}
		}
		f.rows = kept
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func TestSupabaseBackend(t *testing.T) {
	fake := &fakePostgREST{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := NewSupabaseClient(srv.URL, "service-key")
	require.NoError(t, err)
	s := New(NewSupabase(client, "events"), Options{RequireOwner: true})
	ctx := context.Background()

	a, err := s.Create(ctx, "alice", model.CalendarEvent{Date: "2026-03-10", Title: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "bob", model.CalendarEvent{Date: "2026-03-10", Title: "b"})
	require.NoError(t, err)

	evs, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, a.ID, evs[0].ID)
	assert.Equal(t, "alice", evs[0].OwnerID)

	require.NoError(t, s.Update(ctx, "alice", model.CalendarEvent{ID: a.ID, Date: "2026-03-12", Title: "moved"}))
	evs, err = s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-12", evs[0].Date)
	assert.Equal(t, "moved", evs[0].Title)

	assert.ErrorIs(t, s.Update(ctx, "bob", model.CalendarEvent{ID: a.ID, Date: "2026-03-12", Title: "x"}), ErrNotFound)

	require.NoError(t, s.Delete(ctx, "alice", a.ID))
	require.NoError(t, s.Delete(ctx, "alice", a.ID))
	evs, err = s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, evs)
}

// fakeDynamo keeps items by id and answers with canned conditional
// failures; it does not evaluate expressions.
type fakeDynamo struct {
	items      map[string]map[string]types.AttributeValue
	lastQuery  *dynamodb.QueryInput
	lastPut    *dynamodb.PutItemInput
	failUpdate bool
	failDelete bool
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQuery = in
	var owner string
	for _, v := range in.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			owner = s.Value
		}
	}
	out := &dynamodb.QueryOutput{}
	for _, item := range f.items {
		if s, ok := item["ownerId"].(*types.AttributeValueMemberS); ok && s.Value == owner {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.failUpdate {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("conditional check failed")}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.failDelete {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("conditional check failed")}
	}
	delete(f.items, in.Key["id"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func awsString(s string) *string { return &s }

func TestDynamoBackend(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	d := NewDynamo(fake, "smartcal-events", "ownerId-createdAt-index")
	ctx := context.Background()

	early := model.CalendarEvent{ID: "e1", OwnerID: "alice", Date: "2026-03-10", Title: "first", Kind: model.KindPersonal, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	late := model.CalendarEvent{ID: "e2", OwnerID: "alice", Date: "2026-03-09", Title: "second", Kind: model.KindPersonal, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, d.Insert(ctx, late))
	require.NoError(t, d.Insert(ctx, early))
	require.NotNil(t, fake.lastPut.ConditionExpression)

	var stored model.CalendarEvent
	require.NoError(t, attributevalue.UnmarshalMap(fake.items["e1"], &stored))
	assert.Equal(t, "alice", stored.OwnerID)

	evs, err := d.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "e1", evs[0].ID)
	assert.Equal(t, "e2", evs[1].ID)
	assert.Equal(t, "ownerId-createdAt-index", *fake.lastQuery.IndexName)

	fake.failUpdate = true
	err = d.Update(ctx, "bob", model.CalendarEvent{ID: "e1", Title: "x", Date: "2026-03-10"})
	assert.True(t, errors.Is(err, ErrNotFound))

	fake.failDelete = true
	assert.NoError(t, d.Delete(ctx, "bob", "e1"))
	fake.failDelete = false
	assert.NoError(t, d.Delete(ctx, "alice", "e1"))
	assert.NotContains(t, fake.items, "e1")
}
