package sandbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const snapshotDir = "data"

// datasetSidecars are write-ahead logs that must travel with a database file.
var datasetSidecars = []string{"-wal", ".wal"}

// snapshotDataset copies the dataset into a private directory under dir and
// returns the path of the read-only copy. The shared file itself is never handed
// to the program, so a run can only damage its own copy.
func snapshotDataset(src, dir string) (string, error) {
	snapDir := filepath.Join(dir, snapshotDir)
	if err := os.Mkdir(snapDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dataset snapshot directory: %w", err)
	}
	dst := filepath.Join(snapDir, filepath.Base(src))
	if err := copyReadOnly(src, dst); err != nil {
		return "", fmt.Errorf("failed to snapshot dataset: %w", err)
	}
	for _, suffix := range datasetSidecars {
		err := copyReadOnly(src+suffix, dst+suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to snapshot dataset: %w", err)
		}
	}
	return dst, nil
}

func copyReadOnly(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
