// Package export writes run results to disk as complete artifacts.
package export

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/crew"
)

// Formats.
const (
	FormatMarkdown = "md"
	FormatText     = "txt"
	FormatBundle   = "zst"
)

var ErrEmptyArtifact = errors.New("refusing to export an empty artifact")

type Exporter struct {
	dir    string
	format string
}

func New(cfg config.ExportConfig) (*Exporter, error) {
	format := cfg.Format
	if format == "" {
		format = FormatMarkdown
	}
	switch format {
	case FormatMarkdown, FormatText, FormatBundle:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	return &Exporter{dir: cfg.Dir, format: format}, nil
}

// Filename keeps only ASCII letters, digits, '-' and '_' of label.
func Filename(label string) string {
	var sb strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Export writes res under a name derived from label and returns the path.
// The file appears complete or not at all.
func (e *Exporter) Export(res *crew.Result, label string) (string, error) {
	if res == nil || strings.TrimSpace(res.Output) == "" {
		return "", ErrEmptyArtifact
	}
	name := Filename(label)
	if name == "" {
		name = Filename(res.Crew + "-" + res.RunID)
	}
	if name == "" {
		name = "artifact"
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, name+"."+e.format)

	err := writeAtomic(path, func(w io.Writer) error {
		switch e.format {
		case FormatBundle:
			return writeBundle(w, res)
		case FormatText:
			_, err := io.WriteString(w, res.Output)
			return err
		default:
			_, err := io.WriteString(w, markdown(res))
			return err
		}
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func markdown(res *crew.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<!-- crew: %s, run: %s, mode: %s, finished: %s -->\n\n",
		res.Crew, res.RunID, res.Mode, res.Finished.UTC().Format(time.RFC3339))
	sb.WriteString(strings.TrimRight(res.Output, "\n"))
	sb.WriteString("\n")
	return sb.String()
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

type manifest struct {
	RunID    string    `json:"run_id"`
	Crew     string    `json:"crew"`
	Mode     string    `json:"mode"`
	Tasks    []string  `json:"tasks"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// writeBundle stores the result, every task output and a manifest as a
// zstd-compressed tar.
func writeBundle(w io.Writer, res *crew.Result) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	names := make([]string, 0, len(res.TaskOutputs))
	for name := range res.TaskOutputs {
		names = append(names, name)
	}
	sort.Strings(names)

	meta, err := json.MarshalIndent(manifest{
		RunID:    res.RunID,
		Crew:     res.Crew,
		Mode:     string(res.Mode),
		Tasks:    names,
		Started:  res.Started,
		Finished: res.Finished,
	}, "", "  ")
	if err != nil {
		return err
	}

	files := []struct {
		name string
		body []byte
	}{
		{"manifest.json", meta},
		{"result.md", []byte(res.Output)},
	}
	for _, name := range names {
		files = append(files, struct {
			name string
			body []byte
		}{"tasks/" + name + ".md", []byte(res.TaskOutputs[name])})
	}

	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(f.body)),
			ModTime: res.Finished,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", f.name, err)
		}
		if _, err := tw.Write(f.body); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

// ReadBundle returns the files of a bundle written with the zst format.
func ReadBundle(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	files := make(map[string]string)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = string(data)
	}
	return files, nil
}
