package binary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// checkDir verifies that dir exists, is a directory and is writable by this
// process.
func checkDir(dir, what string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Error{Kind: KindPath, Op: what + " does not exist", Path: dir, Err: err}
		}
		return &Error{Kind: KindPermission, Op: "stat " + what, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &Error{Kind: KindPath, Op: what + " is not a directory", Path: dir}
	}
	if err := checkWritable(dir); err != nil {
		return &Error{Kind: KindPermission, Op: what + " is not writable", Path: dir, Err: err}
	}
	return nil
}

// checkRemovable verifies that an existing install at path can be renamed
// aside: it must be a regular file in a writable directory.
func checkRemovable(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return &Error{Kind: KindPermission, Op: "stat existing install", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &Error{Kind: KindPath, Op: "existing install is not a regular file", Path: path}
	}
	if err := checkWritable(filepath.Dir(path)); err != nil {
		return &Error{Kind: KindPermission, Op: "cannot replace existing install", Path: path, Err: err}
	}
	return nil
}

// checkFreeSpace fails when dir has less than need bytes available. A zero
// need or an unreadable filesystem skips the check.
func checkFreeSpace(ctx context.Context, dir string, need uint64, log Logger) error {
	if need == 0 {
		return nil
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		log.Debug("free space check skipped", "dir", dir, "error", err)
		return nil
	}
	if usage.Free < need {
		return &Error{Kind: KindPath, Op: "insufficient disk space", Path: dir,
			Err: fmt.Errorf("need %d bytes, %d available", need, usage.Free)}
	}
	return nil
}
