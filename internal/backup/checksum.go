package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// manifestFile is the manifest's name inside a backup directory. It is
// written after the checksum is computed, so it is excluded from it.
const manifestFile = "manifest.json"

// ChecksumMismatchError reports a verify failure against the manifest.
type ChecksumMismatchError struct {
	BackupID string
	Want     string
	Got      string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("backup %s: checksum mismatch: want %s got %s", e.BackupID, e.Want, e.Got)
}

// checksumTree hashes every regular file under dir in sorted relative-path
// order, feeding each path and its content into one SHA-256 stream. The
// manifest file itself is skipped.
func checksumTree(dir string) (string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == manifestFile {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk backup dir: %w", err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		io.WriteString(h, rel)
		h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
