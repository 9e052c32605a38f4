package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/crew"
)

func result() *crew.Result {
	return &crew.Result{
		RunID:       "0f9c",
		Crew:        "qa",
		Mode:        crew.Pipeline,
		Output:      "Refunds take 5 days.",
		TaskOutputs: map[string]string{"answer": "Refunds take 5 days.", "lookup": "FAQ page"},
		Started:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Finished:    time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC),
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("https://example.com/a_b-c?x=1"); got != "httpsexamplecoma_b-cx1" {
		t.Errorf("unexpected filename %q", got)
	}
	if got := Filename("../../etc/passwd"); got != "etcpasswd" {
		t.Errorf("expected path characters stripped, got %q", got)
	}
}

func TestExportMarkdown(t *testing.T) {
	dir := t.TempDir()
	e, err := New(config.ExportConfig{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	path, err := e.Export(result(), "https://example.com/faq")
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "httpsexamplecomfaq.md") {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "Refunds take 5 days.\n") || !strings.Contains(string(data), "run: 0f9c") {
		t.Errorf("unexpected content %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestExportEmptyRefused(t *testing.T) {
	dir := t.TempDir()
	e, _ := New(config.ExportConfig{Dir: dir, Format: FormatText})
	res := result()
	res.Output = "  \n"
	if _, err := e.Export(res, "x"); !errors.Is(err, ErrEmptyArtifact) {
		t.Fatalf("expected ErrEmptyArtifact, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected nothing written, got %d entries", len(entries))
	}
}

func TestExportFallbackName(t *testing.T) {
	e, _ := New(config.ExportConfig{Dir: t.TempDir(), Format: FormatText})
	path, err := e.Export(result(), "???")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "qa-0f9c.txt" {
		t.Errorf("unexpected fallback name %s", path)
	}
}

func TestExportBundle(t *testing.T) {
	e, err := New(config.ExportConfig{Dir: t.TempDir(), Format: FormatBundle})
	if err != nil {
		t.Fatal(err)
	}
	path, err := e.Export(result(), "faq")
	if err != nil {
		t.Fatal(err)
	}
	files, err := ReadBundle(path)
	if err != nil {
		t.Fatal(err)
	}
	if files["result.md"] != "Refunds take 5 days." || files["tasks/lookup.md"] != "FAQ page" {
		t.Errorf("unexpected bundle contents %v", files)
	}
	if !strings.Contains(files["manifest.json"], `"crew": "qa"`) {
		t.Errorf("unexpected manifest %s", files["manifest.json"])
	}
}

func TestNewRejectsFormat(t *testing.T) {
	if _, err := New(config.ExportConfig{Format: "pdf"}); err == nil {
		t.Error("expected error for pdf format")
	}
}
