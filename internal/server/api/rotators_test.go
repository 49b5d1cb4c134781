package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"broadcast-graphics/onair/internal/models"
	"broadcast-graphics/onair/internal/rotation"
	"broadcast-graphics/onair/internal/server/storage"
)

type fakeSnapshots struct {
	snap  *models.Snapshot
	items []models.ContentItem
}

func (f *fakeSnapshots) Save(ctx context.Context, source string, items []models.ContentItem) error {
	return nil
}

func (f *fakeSnapshots) Latest(ctx context.Context, source string) (*models.Snapshot, []models.ContentItem, error) {
	if f.snap == nil || f.snap.Source != source {
		return nil, nil, storage.ErrNoSnapshot
	}
	return f.snap, f.items, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func newRegistry(t *testing.T) *rotation.Registry {
	t.Helper()
	reg := rotation.NewRegistry()
	c := rotation.New(rotation.SourceFunc(func(ctx context.Context) ([]models.ContentItem, error) {
		return nil, nil
	}), rotation.Options{
		Name:         "articles",
		InitialItems: []models.ContentItem{{ID: "1", Title: "first"}, {ID: "2", Title: "second"}},
	})
	if err := reg.Add(c); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRotatorGet(t *testing.T) {
	reg := newRegistry(t)
	h := NewRotatorHandler(reg, &fakeSnapshots{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rotators/{name}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rotators/articles", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap rotation.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Name != "articles" || snap.Phase != rotation.PhaseDisplay || snap.Item == nil || snap.Item.Title != "first" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rotators/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown rotator status = %d, want 404", rec.Code)
	}
}

func TestRotatorList(t *testing.T) {
	h := NewRotatorHandler(newRegistry(t), &fakeSnapshots{})
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/rotators", nil))

	var snaps []rotation.Snapshot
	json.Unmarshal(rec.Body.Bytes(), &snaps)
	if len(snaps) != 1 || snaps[0].Total != 2 {
		t.Errorf("unexpected list: %+v", snaps)
	}
}

func TestLatestSnapshot(t *testing.T) {
	fetched := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	h := NewRotatorHandler(newRegistry(t), &fakeSnapshots{
		snap:  &models.Snapshot{Source: "articles", ItemCount: 1, FetchedAt: fetched},
		items: []models.ContentItem{{ID: "9", Title: "saved"}},
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/snapshots/{source}", h.LatestSnapshot)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/articles", nil))
	var resp SnapshotResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.ItemCount != 1 || resp.Items[0].Title != "saved" || !resp.FetchedAt.Equal(fetched) {
		t.Errorf("unexpected response: %d %+v", rec.Code, resp)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/me-wires", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing snapshot status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(pingFunc(func(ctx context.Context) error { return nil }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("healthy: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Health(pingFunc(func(ctx context.Context) error { return errors.New("closed") }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
}
