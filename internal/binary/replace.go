package binary

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// replacement swaps a staged executable into place. The previous binary is
// renamed aside and only removed after the new one is in place.
type replacement struct {
	target string
	staged string
	backup string
	log    Logger
}

func newReplacement(target, runID string, log Logger) *replacement {
	dir, name := filepath.Split(target)
	return &replacement{
		target: target,
		staged: filepath.Join(dir, "."+name+".new-"+runID),
		backup: filepath.Join(dir, "."+name+".old-"+runID),
		log:    log,
	}
}

// stage copies src next to the target with mode 0755. The scratch directory
// may be on another filesystem, so a rename is not enough.
func (r *replacement) stage(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return &Error{Kind: KindArchive, Op: "open extracted binary", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(r.staged, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0755)
	if err != nil {
		return &Error{Kind: KindPermission, Op: "stage binary", Path: r.staged, Err: err}
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		os.Remove(r.staged)
		return &Error{Kind: KindPath, Op: "stage binary", Path: r.staged, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(r.staged)
		return &Error{Kind: KindPath, Op: "stage binary", Path: r.staged, Err: err}
	}

	// umask may have stripped bits from the create mode
	if err := os.Chmod(r.staged, 0755); err != nil {
		os.Remove(r.staged)
		return &Error{Kind: KindPermission, Op: "set executable", Path: r.staged, Err: err}
	}
	return nil
}

// commit moves the staged binary to the target. It reports whether a
// previous binary was replaced. On failure the previous binary is restored.
func (r *replacement) commit() (bool, error) {
	replaced := false
	if _, err := os.Lstat(r.target); err == nil {
		if err := os.Rename(r.target, r.backup); err != nil {
			return false, &Error{Kind: KindPermission, Op: "move existing install aside", Path: r.target, Err: err}
		}
		replaced = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, &Error{Kind: KindPermission, Op: "stat existing install", Path: r.target, Err: err}
	}

	if err := os.Rename(r.staged, r.target); err != nil {
		if replaced {
			if rerr := os.Rename(r.backup, r.target); rerr != nil {
				r.log.Error("restore previous install failed", "backup", r.backup, "target", r.target, "error", rerr)
				err = fmt.Errorf("%w (previous binary left at %s)", err, r.backup)
			}
		}
		return false, &Error{Kind: KindPermission, Op: "install binary", Path: r.target, Err: err}
	}

	if replaced {
		if err := os.Remove(r.backup); err != nil {
			// The new binary is in place; a stray backup is only clutter.
			r.log.Warn("remove previous install failed", "path", r.backup, "error", err)
		}
	}
	return replaced, nil
}

// discard removes the staged file if commit never ran or failed.
func (r *replacement) discard() {
	if err := os.Remove(r.staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("remove staged binary failed", "path", r.staged, "error", err)
	}
}
