package main

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/store"
)

func TestSplitSectionPath(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantSection string
		wantRel     string
	}{
		{"store snapshot", "store/crew.db", "store", "crew.db"},
		{"crew file", "crews/blog.yaml", "crews", "blog.yaml"},
		{"nested crew file", "crews/team/ops.yml", "crews", "team/ops.yml"},
		{"leading dot-slash", "./crews/blog.yaml", "crews", "blog.yaml"},
		{"leading slash", "/store/crew.db", "store", "crew.db"},
		{"section only", "crews/", "", ""},
		{"bare section", "crews", "", ""},
		{"unknown section", "other/file.txt", "", ""},
		{"escapes section", "crews/../../etc/passwd", "", ""},
		{"empty string", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSection, gotRel := splitSectionPath(tt.input)
			if gotSection != tt.wantSection {
				t.Errorf("splitSectionPath(%q) section = %q, want %q", tt.input, gotSection, tt.wantSection)
			}
			if gotRel != tt.wantRel {
				t.Errorf("splitSectionPath(%q) relPath = %q, want %q", tt.input, gotRel, tt.wantRel)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestParseArchiveArgs(t *testing.T) {
	file, overwrite, err := parseArchiveArgs([]string{"-f", "b.tar.zst", "-overwrite"})
	if err != nil {
		t.Fatal(err)
	}
	if file != "b.tar.zst" || !overwrite {
		t.Errorf("got file=%q overwrite=%v", file, overwrite)
	}
	for _, args := range [][]string{nil, {"-f"}, {"-x"}} {
		if _, _, err := parseArchiveArgs(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

// seedStore creates a store with one schedule and a crews dir with one file.
func seedStore(t *testing.T, dir string) (*store.Store, string) {
	t.Helper()
	db, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "data", "crew.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	sc := &store.Schedule{ID: "s1", Crew: "blog", Name: "weekly", Schedule: `{"kind":"cron","cron":"0 9 * * 1"}`}
	if err := db.SaveSchedule(sc); err != nil {
		t.Fatal(err)
	}

	crewsDir := filepath.Join(dir, "crews")
	if err := os.MkdirAll(filepath.Join(crewsDir, "team"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(crewsDir, "team", "ops.yaml"), []byte("name: ops\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return db, crewsDir
}

func TestBackupRestore(t *testing.T) {
	src := t.TempDir()
	db, crewsDir := seedStore(t, src)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	n, err := backup(db, crewsDir, archive)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 archived files, got %d", n)
	}

	names, err := scanArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "store/crew.db,crews/team/ops.yaml" {
		t.Fatalf("unexpected entries %v", names)
	}

	dst := t.TempDir()
	storePath := filepath.Join(dst, "data", "crew.db")
	restoredCrews := filepath.Join(dst, "crews")
	n, err = restore(archive, storePath, restoredCrews, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored files, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(restoredCrews, "team", "ops.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "name: ops\n" {
		t.Errorf("unexpected crew file %q", data)
	}

	restored, err := store.New(config.StoreConfig{Path: storePath})
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	sc, err := restored.GetSchedule("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sc == nil || sc.Name != "weekly" {
		t.Fatalf("expected restored schedule, got %+v", sc)
	}
}

func TestRestoreRefusesExisting(t *testing.T) {
	src := t.TempDir()
	db, crewsDir := seedStore(t, src)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if _, err := backup(db, crewsDir, archive); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	target := filepath.Join(dst, "crews", "team", "ops.yaml")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	storePath := filepath.Join(dst, "crew.db")
	if _, err := restore(archive, storePath, filepath.Join(dst, "crews"), false); err == nil {
		t.Fatal("expected restore to refuse existing files")
	}
	if _, err := os.Stat(storePath); !os.IsNotExist(err) {
		t.Error("nothing may be written when the restore is refused")
	}

	if _, err := restore(archive, storePath, filepath.Join(dst, "crews"), true); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "name: ops\n" {
		t.Errorf("expected overwritten crew file, got %q", data)
	}
}

func TestRestoreSkipsForeignEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	for _, e := range []struct{ name, body string }{
		{"crews/../../escape.yaml", "x"},
		{"random.txt", "x"},
		{"crews/ok.yaml", "name: ok\n"},
	} {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()
	f.Close()

	dst := t.TempDir()
	crewsDir := filepath.Join(dst, "nested", "crews")
	n, err := restore(path, filepath.Join(dst, "crew.db"), crewsDir, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected only the crew file restored, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dst, "escape.yaml")); !os.IsNotExist(err) {
		t.Error("entry escaping the crews dir was written")
	}
}

func TestRestoreInvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	if err := os.WriteFile(path, []byte("not zstd data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := restore(path, filepath.Join(t.TempDir(), "crew.db"), "", false); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
	if _, err := restore("/nonexistent/file.tar.zst", "crew.db", "", false); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
