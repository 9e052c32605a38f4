package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/crew/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSecretCRUD(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{Name: "openai-key", Description: "OpenAI", Value: []byte{1, 2, 3}, Nonce: []byte{9}}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	got, err := s.GetSecret("openai-key")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if got == nil {
		t.Fatal("expected secret, got nil")
	}
	if string(got.Value) != string([]byte{1, 2, 3}) || string(got.Nonce) != string([]byte{9}) {
		t.Errorf("unexpected value/nonce %v %v", got.Value, got.Nonce)
	}
	if got.Description != "OpenAI" {
		t.Errorf("expected description OpenAI, got %q", got.Description)
	}

	// Update
	sec.Value = []byte{4}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("update secret: %v", err)
	}
	got, _ = s.GetSecret("openai-key")
	if len(got.Value) != 1 || got.Value[0] != 4 {
		t.Errorf("expected updated value, got %v", got.Value)
	}

	list, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list secrets: %v", err)
	}
	if len(list) != 1 || list[0].Value != nil {
		t.Errorf("expected 1 secret without value, got %+v", list)
	}

	if err := s.DeleteSecret("openai-key"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	got, err = s.GetSecret("openai-key")
	if err != nil || got != nil {
		t.Errorf("expected nil after delete, got %v %v", got, err)
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &Schedule{
		ID:        "s1",
		Crew:      "blog",
		Name:      "daily post",
		Schedule:  `{"kind":"cron","cron":"0 9 * * *"}`,
		Params:    map[string]string{"topic": "Go generics"},
		NextRunAt: &past,
	}
	later := &Schedule{ID: "s2", Crew: "qa", Name: "later", Schedule: `{"kind":"once","at":"2030-01-01T00:00:00Z"}`, NextRunAt: &future}
	for _, sc := range []*Schedule{due, later} {
		if err := s.SaveSchedule(sc); err != nil {
			t.Fatalf("save schedule: %v", err)
		}
	}

	got, err := s.GetSchedule("s1")
	if err != nil || got == nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Params["topic"] != "Go generics" {
		t.Errorf("expected params round trip, got %v", got.Params)
	}
	if got.Status != "active" {
		t.Errorf("expected active status, got %q", got.Status)
	}

	dueList, err := s.GetDueSchedules(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(dueList) != 1 || dueList[0].ID != "s1" {
		t.Fatalf("expected only s1 due, got %+v", dueList)
	}

	next := time.Now().Add(24 * time.Hour)
	if err := s.UpdateScheduleRun("s1", "success", "", &next); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, _ = s.GetSchedule("s1")
	if got.LastStatus != "success" || got.LastRunAt == nil {
		t.Errorf("expected recorded run, got %+v", got)
	}
	dueList, _ = s.GetDueSchedules(time.Now())
	if len(dueList) != 0 {
		t.Errorf("expected nothing due after run, got %d", len(dueList))
	}

	if err := s.UpdateScheduleRun("s2", "error", "boom", nil); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, _ = s.GetSchedule("s2")
	if got.Status != "completed" || got.LastError != "boom" {
		t.Errorf("expected completed one-shot with error, got %+v", got)
	}

	all, err := s.ListSchedules()
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 schedules, got %d (%v)", len(all), err)
	}

	if err := s.UpdateScheduleStatus("s1", "paused"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSchedule("s2"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetSchedule("s2"); got != nil {
		t.Error("expected schedule deleted")
	}
}

func TestPageCache(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.PutCachedPage(&CachedPage{
		Key:       "firecrawl:https://example.com",
		Provider:  "firecrawl",
		Body:      "# Example",
		FetchedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutCachedPage(&CachedPage{
		Key:       "fetch:https://old.example.com",
		Provider:  "fetch",
		Body:      "stale",
		FetchedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetCachedPage("firecrawl:https://example.com", now)
	if err != nil || p == nil {
		t.Fatalf("expected cached page, got %v %v", p, err)
	}
	if p.Body != "# Example" {
		t.Errorf("unexpected body %q", p.Body)
	}

	stale, err := s.GetCachedPage("fetch:https://old.example.com", now)
	if err != nil || stale != nil {
		t.Errorf("expected expired entry to be hidden, got %v %v", stale, err)
	}

	n, err := s.PruneCache(now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	sc := &Schedule{ID: "s1", Crew: "blog", Name: "weekly", Schedule: `{"kind":"interval","interval":"168h"}`}
	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.db")
	if err := s.Snapshot(path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	copied, err := New(config.StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copied.Close()

	got, err := copied.GetSchedule("s1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got == nil || got.Name != "weekly" || got.Crew != "blog" {
		t.Fatalf("unexpected schedule in snapshot: %+v", got)
	}
}
