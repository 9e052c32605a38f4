package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := defaults()
	d := Diff(&cfg, &cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiff_ProviderAddedRemovedChanged(t *testing.T) {
	old := &Config{
		Providers: map[string]ProviderConfig{
			"openai": {Type: TypeOpenAI, Model: "gpt-4-turbo"},
			"serper": {Type: TypeSerper},
		},
	}
	new := &Config{
		Providers: map[string]ProviderConfig{
			"openai": {Type: TypeOpenAI, Model: "gpt-4o"},
			"gemini": {Type: TypeGemini},
		},
	}
	d := Diff(old, new)
	if len(d.ProvidersAdded) != 1 || d.ProvidersAdded[0] != "gemini" {
		t.Errorf("expected gemini added, got %v", d.ProvidersAdded)
	}
	if len(d.ProvidersRemoved) != 1 || d.ProvidersRemoved[0] != "serper" {
		t.Errorf("expected serper removed, got %v", d.ProvidersRemoved)
	}
	if len(d.ProvidersChanged) != 1 || d.ProvidersChanged[0] != "openai" {
		t.Errorf("expected openai changed, got %v", d.ProvidersChanged)
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}
}

func TestDiff_RetryAndRouter(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Retry.BaseDelay = 5 * time.Second
	new.Router.DefaultCrew = "blog"

	d := Diff(&old, &new)
	if !d.RetryChanged || d.NewRetry.BaseDelay != 5*time.Second {
		t.Errorf("expected retry change, got %+v", d)
	}
	if !d.RouterChanged || d.NewRouter.DefaultCrew != "blog" {
		t.Errorf("expected router change, got %+v", d)
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Scheduler.PollInterval = time.Minute

	d := Diff(&old, &new)
	if !d.SchedulerChanged || d.NewScheduler.PollInterval != time.Minute {
		t.Errorf("expected scheduler change, got %+v", d)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Web.Port = 9999
	new.Vault.Passphrase = "changed"

	d := Diff(&old, &new)
	if d.HasChanges() {
		t.Error("non-reloadable fields must not count as reloadable changes")
	}
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable changes, got %v", d.NonReloadable)
	}
}
