package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(id, datetime string, cloud float64) map[string]any {
	return map[string]any{
		"type":         "Feature",
		"stac_version": "1.0.0",
		"id":           id,
		"geometry":     nil,
		"bbox":         []float64{9, 50, 10, 51},
		"properties": map[string]any{
			"datetime":       datetime,
			"eo:cloud_cover": cloud,
		},
		"links":  []any{},
		"assets": map[string]any{},
	}
}

type fakeCatalog struct {
	pages    [][]map[string]any
	requests []map[string]any
	calls    atomic.Int32
	status   int
}

func (f *fakeCatalog) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post(DefaultSearchPath, func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.status != 0 {
			http.Error(w, "upstream down", f.status)
			return
		}

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.requests = append(f.requests, body)

		page := 0
		if next, ok := body["next"].(float64); ok {
			page = int(next)
		}

		resp := map[string]any{
			"type":     "FeatureCollection",
			"features": f.pages[page],
		}
		if page+1 < len(f.pages) {
			resp["context"] = map[string]any{"next": page + 1, "limit": 2, "returned": len(f.pages[page])}
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testQuery() Query {
	return Query{
		Collection: "sentinel-2-l2a",
		BBox:       []float64{9.1, 50.1, 9.2, 50.2},
		Start:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Limit:      2,
	}
}

func TestSearchPaginates(t *testing.T) {
	fake := &fakeCatalog{pages: [][]map[string]any{
		{feature("S2A_1", "2024-06-03T10:30:31Z", 10), feature("S2B_2", "2024-06-03T10:30:45Z", 20)},
		{feature("S2A_3", "2024-06-08T10:30:31.024Z", 80)},
	}}
	srv := fake.server(t)

	client := NewClient(srv.URL, srv.Client())
	scenes, err := Collect(client.Search(context.Background(), testQuery()))
	require.NoError(t, err)

	require.Len(t, scenes, 3)
	assert.Equal(t, "S2A_1", scenes[0].ID)
	assert.Equal(t, "2024-06-03", scenes[1].Date())
	assert.Equal(t, "2024-06-08", scenes[2].Date())
	require.NotNil(t, scenes[2].CloudCover)
	assert.InDelta(t, 80, *scenes[2].CloudCover, 1e-9)
	assert.EqualValues(t, 2, fake.calls.Load())

	first := fake.requests[0]
	assert.Equal(t, "2024-06-01T00:00:00Z/2024-06-30T23:59:59Z", first["datetime"])
	assert.Equal(t, []any{"sentinel-2-l2a"}, first["collections"])
	assert.NotContains(t, first, "next")
	assert.EqualValues(t, 1, fake.requests[1]["next"])
}

func TestSearchIsLazy(t *testing.T) {
	fake := &fakeCatalog{pages: [][]map[string]any{
		{feature("S2A_1", "2024-06-03T10:30:31Z", 10)},
		{feature("S2A_2", "2024-06-05T10:30:31Z", 10)},
	}}
	srv := fake.server(t)

	seq := NewClient(srv.URL, srv.Client()).Search(context.Background(), testQuery())
	assert.EqualValues(t, 0, fake.calls.Load())

	for scene, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, "S2A_1", scene.ID)
		break
	}
	assert.EqualValues(t, 1, fake.calls.Load(), "second page must not be fetched after early stop")
}

func TestSearchServerFilter(t *testing.T) {
	fake := &fakeCatalog{pages: [][]map[string]any{{feature("S2A_1", "2024-06-03T10:30:31Z", 10)}}}
	srv := fake.server(t)

	q := testQuery()
	limit := 30.0
	q.MaxCloudCover = &limit

	_, err := Collect(NewClient(srv.URL, srv.Client()).Search(context.Background(), q))
	require.NoError(t, err)

	req := fake.requests[0]
	assert.Equal(t, "cql2-json", req["filter-lang"])
	filter, ok := req["filter"].(map[string]any)
	require.True(t, ok, "filter should be an object: %v", req["filter"])
	assert.Equal(t, "<=", filter["op"])
}

func TestSearchClientFilter(t *testing.T) {
	fake := &fakeCatalog{pages: [][]map[string]any{{
		feature("S2A_1", "2024-06-03T10:30:31Z", 10),
		feature("S2A_2", "2024-06-05T10:30:31Z", 55),
	}}}
	srv := fake.server(t)

	q := testQuery()
	limit := 30.0
	q.MaxCloudCover = &limit

	client := NewClient(srv.URL, srv.Client()).WithServerFilter(false)
	scenes, err := Collect(client.Search(context.Background(), q))
	require.NoError(t, err)

	require.Len(t, scenes, 1)
	assert.Equal(t, "S2A_1", scenes[0].ID)
	assert.NotContains(t, fake.requests[0], "filter")
}

func TestSearchSkipsMalformedItems(t *testing.T) {
	bad := feature("S2A_bad", "", 0)
	delete(bad["properties"].(map[string]any), "datetime")
	fake := &fakeCatalog{pages: [][]map[string]any{{bad, feature("S2A_ok", "2024-06-03T10:30:31Z", 5)}}}
	srv := fake.server(t)

	scenes, err := Collect(NewClient(srv.URL, srv.Client()).Search(context.Background(), testQuery()))
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "S2A_ok", scenes[0].ID)
}

func TestSearchUnavailable(t *testing.T) {
	fake := &fakeCatalog{status: http.StatusInternalServerError}
	srv := fake.server(t)

	_, err := Collect(NewClient(srv.URL, srv.Client()).Search(context.Background(), testQuery()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
}

func TestSearchIntersects(t *testing.T) {
	fake := &fakeCatalog{pages: [][]map[string]any{{}}}
	srv := fake.server(t)

	q := testQuery()
	q.BBox = nil
	q.Intersects = orb.Polygon{{{9.1, 50.1}, {9.2, 50.1}, {9.2, 50.2}, {9.1, 50.1}}}

	scenes, err := Collect(NewClient(srv.URL, srv.Client()).Search(context.Background(), q))
	require.NoError(t, err)
	assert.Empty(t, scenes)

	geometry, ok := fake.requests[0]["intersects"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Polygon", geometry["type"])
	assert.NotContains(t, fake.requests[0], "bbox")
}

func TestBuildRequestValidation(t *testing.T) {
	c := NewClient("http://unused", nil)

	tests := []struct {
		name   string
		mutate func(*Query)
	}{
		{"missing collection", func(q *Query) { q.Collection = "" }},
		{"no spatial filter", func(q *Query) { q.BBox = nil }},
		{"both spatial filters", func(q *Query) { q.Intersects = orb.Point{9, 50} }},
		{"short bbox", func(q *Query) { q.BBox = []float64{1, 2, 3} }},
		{"end before start", func(q *Query) { q.End = q.Start.AddDate(0, 0, -1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := testQuery()
			tt.mutate(&q)
			_, err := c.buildRequest(q)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestFilterScenes(t *testing.T) {
	low, high := 5.0, 60.0
	scenes := []Scene{{ID: "a", CloudCover: &low}, {ID: "b", CloudCover: &high}, {ID: "c"}}

	limit := 30.0
	got := FilterScenes(scenes, &limit)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	assert.Len(t, FilterScenes(scenes, nil), 3)
}

func TestSearchCustomURL(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Post("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "FeatureCollection",
			"features": []any{feature("S2A_1", "2024-06-03T10:30:31Z", 10)},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := NewClient("http://unused.invalid", srv.Client()).WithSearchURL(srv.URL + "/v1/search")
	scenes, err := Collect(client.Search(context.Background(), testQuery()))
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
	assert.EqualValues(t, 1, calls.Load())

	fake := &fakeCatalog{pages: [][]map[string]any{{feature("S2A_2", "2024-06-05T10:30:31Z", 10)}}}
	def := fake.server(t)
	scenes, err = Collect(NewClient(def.URL, def.Client()).WithSearchURL("").Search(context.Background(), testQuery()))
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
}

func TestDayRange(t *testing.T) {
	from, to := DayRange(time.Date(2024, 6, 3, 10, 30, 31, 0, time.FixedZone("CEST", 2*3600)))
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 6, 3, 23, 59, 59, 0, time.UTC), to)
}
