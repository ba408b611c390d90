package store

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// MinFreeBytes below which storage is considered unavailable.
const MinFreeBytes = 1 << 20

// FreeBytes reports space available to unprivileged user on filesystem of dir.
func FreeBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, errors.Annotatef(err, "statfs dir=%s", dir)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func probeDir(dir string) error {
	free, err := FreeBytes(dir)
	if err != nil {
		return err
	}
	if free < MinFreeBytes {
		return errors.Errorf("store dir=%s free=%d below minimum=%d", dir, free, MinFreeBytes)
	}
	path := filepath.Join(dir, ".probe")
	if err := os.WriteFile(path, []byte("ok\n"), 0644); err != nil {
		return errors.Annotate(err, "store probe write")
	}
	return errors.Annotate(os.Remove(path), "store probe remove")
}
