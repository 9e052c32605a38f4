package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/store"
)

// Archive sections: the store snapshot and the crew definitions directory.
const (
	sectionStore = "store"
	sectionCrews = "crews"
	storeEntry   = sectionStore + "/crew.db"
)

func runBackup(args []string) error {
	outputPath, _, err := parseArchiveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: crew backup -f <output.tar.zst>\n")
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	n, err := backup(db, cfg.Crews.Dir, outputPath)
	if err != nil {
		return err
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", n, formatSize(size))
	return nil
}

func runRestore(args []string) error {
	inputPath, overwrite, err := parseArchiveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: crew restore -f <backup.tar.zst> [-overwrite]\n")
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	n, err := restore(inputPath, cfg.Store.Path, cfg.Crews.Dir, overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

func parseArchiveArgs(args []string) (file string, overwrite bool, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("missing value for -f")
			}
			i++
			file = args[i]
		case "-overwrite":
			overwrite = true
		default:
			return "", false, fmt.Errorf("unknown flag %s", args[i])
		}
	}
	if file == "" {
		return "", false, fmt.Errorf("missing -f flag")
	}
	return file, overwrite, nil
}

// backup writes a zstd compressed tar holding a consistent snapshot of the
// store and every file in crewsDir. It returns the number of files archived.
func backup(db *store.Store, crewsDir, outputPath string) (int, error) {
	snapshot := filepath.Join(filepath.Dir(outputPath), fmt.Sprintf(".crew-snapshot-%d.db", os.Getpid()))
	_ = os.Remove(snapshot)
	if err := db.Snapshot(snapshot); err != nil {
		return 0, err
	}
	defer os.Remove(snapshot)

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	if err := addFile(tw, snapshot, storeEntry); err != nil {
		return 0, err
	}
	count := 1

	if crewsDir != "" {
		err := filepath.WalkDir(crewsDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(crewsDir, p)
			if err != nil {
				return err
			}
			slog.Debug("archiving crew definition", "path", p)
			count++
			return addFile(tw, p, path.Join(sectionCrews, filepath.ToSlash(rel)))
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("archive crews: %w", err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return count, nil
}

func addFile(tw *tar.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// restore unpacks an archive made by backup. The store snapshot replaces
// storePath and crew definitions land in crewsDir. Without overwrite any
// existing target aborts the restore before anything is written.
func restore(inputPath, storePath, crewsDir string, overwrite bool) (int, error) {
	entries, err := scanArchive(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(entries) == 0 {
		return 0, errors.New("archive contains no files")
	}

	if !overwrite {
		for _, name := range entries {
			target, ok := restoreTarget(name, storePath, crewsDir)
			if !ok {
				continue
			}
			if _, err := os.Stat(target); err == nil {
				return 0, fmt.Errorf("%s already exists, add -overwrite to replace files", target)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, ok := restoreTarget(hdr.Name, storePath, crewsDir)
		if !ok {
			slog.Warn("skipping archive entry", "name", hdr.Name)
			continue
		}
		if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return restored, err
		}
		if target == storePath {
			// Stale journal files would be replayed over the restored snapshot.
			_ = os.Remove(storePath + "-wal")
			_ = os.Remove(storePath + "-shm")
		}
		restored++
	}
	return restored, nil
}

// scanArchive lists the regular file entries without extracting them.
func scanArchive(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	return names, nil
}

// splitSectionPath splits "crews/blog.yaml" into ("crews", "blog.yaml").
// It returns an empty section for unknown sections and for paths that
// would escape their section.
func splitSectionPath(name string) (section, relPath string) {
	name = strings.TrimLeft(name, "./")
	section, relPath, ok := strings.Cut(name, "/")
	if !ok || relPath == "" {
		return "", ""
	}
	if section != sectionStore && section != sectionCrews {
		return "", ""
	}
	relPath = path.Clean(relPath)
	if relPath == ".." || strings.HasPrefix(relPath, "../") || path.IsAbs(relPath) {
		return "", ""
	}
	return section, relPath
}

func restoreTarget(name, storePath, crewsDir string) (string, bool) {
	section, rel := splitSectionPath(name)
	switch section {
	case sectionStore:
		return storePath, true
	case sectionCrews:
		if crewsDir == "" {
			return "", false
		}
		return filepath.Join(crewsDir, filepath.FromSlash(rel)), true
	}
	return "", false
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	if perm == 0 {
		perm = 0o644
	}
	tmp := target + ".restore"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
