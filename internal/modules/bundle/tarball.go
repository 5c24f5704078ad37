package bundle

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// archiveModTime is stamped on every member so archives are reproducible.
var archiveModTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteTarball packs manifest into a gzip tar at dest. The archive is written
// to a temporary file next to dest and renamed into place only on success.
func WriteTarball(manifest []ManifestEntry, dest string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Wrap(PhaseWriting, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return Wrap(PhaseWriting, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := writeArchive(tmp, manifest); err != nil {
		return Wrap(PhaseWriting, err)
	}
	if err := tmp.Sync(); err != nil {
		return Wrap(PhaseWriting, err)
	}
	if err := tmp.Close(); err != nil {
		return Wrap(PhaseWriting, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return Wrap(PhaseWriting, err)
	}
	return nil
}

func writeArchive(w io.Writer, manifest []ManifestEntry) error {
	entries := append([]ManifestEntry(nil), manifest...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ArchivePath < entries[j].ArchivePath })

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := addFile(tw, e); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, e ManifestEntry) error {
	f, err := os.Open(e.DiskPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.ArchivePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", e.ArchivePath)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.ToSlash(e.ArchivePath),
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  archiveModTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", e.ArchivePath, err)
	}
	return nil
}
