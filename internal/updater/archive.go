package updater

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// maxExtractedBytes bounds the total size of regular files unpacked from one
// archive.
var maxExtractedBytes int64 = 4 << 30

// Unpack extracts a tar.gz snapshot archive into destDir and returns the
// directory holding the snapshot database, which may be destDir itself or a
// nested directory. Malformed archives, entries escaping destDir, links,
// archives expanding past maxExtractedBytes and a missing database are
// reported as domain.ErrCorruptSnapshot.
func Unpack(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", corrupt("reading gzip header", err)
	}
	defer func() { _ = gz.Close() }()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create unpack directory: %w", err)
	}

	remaining := maxExtractedBytes
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", corrupt("reading tar entry", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, &remaining); err != nil {
				return "", err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return "", corrupt("unpacking "+hdr.Name, errors.New("links are not allowed in snapshot archives"))
		default:
			// Devices, fifos and pax headers carry nothing a snapshot needs.
		}
	}

	dbDir, err := findDatabaseDir(destDir)
	if err != nil {
		return "", err
	}
	return dbDir, nil
}

// writeEntry copies r to target, charging the bytes written to remaining.
func writeEntry(target string, r io.Reader, remaining *int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, *remaining+1))
	if err != nil {
		_ = out.Close()
		return corrupt("extracting "+filepath.Base(target), err)
	}
	if n > *remaining {
		_ = out.Close()
		return corrupt("extracting "+filepath.Base(target),
			fmt.Errorf("archive expands past %d bytes", maxExtractedBytes))
	}
	*remaining -= n
	return out.Close()
}

// safeJoin resolves name under root, rejecting absolute paths and traversal.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", corrupt("unpacking", fmt.Errorf("unsafe path %q", name))
	}
	return filepath.Join(root, clean), nil
}

// findDatabaseDir returns the shallowest directory under root containing the
// snapshot database.
func findDatabaseDir(root string) (string, error) {
	found := ""
	foundDepth := -1

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != docstore.DatabaseFilename {
			return nil
		}
		depth := strings.Count(path, string(filepath.Separator))
		if foundDepth < 0 || depth < foundDepth {
			found = filepath.Dir(path)
			foundDepth = depth
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning unpacked archive: %w", err)
	}
	if found == "" {
		return "", corrupt("locating snapshot", fmt.Errorf("archive has no %s", docstore.DatabaseFilename))
	}
	return found, nil
}

// Pack writes the regular files under dir into w as a tar.gz archive, with
// paths relative to dir. Publishers and tests use it to build snapshot archives.
func Pack(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("packing %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func corrupt(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrCorruptSnapshot, err)
}
