//go:build !windows

package binary

import "golang.org/x/sys/unix"

// checkWritable asks the kernel whether the real user may write to path.
func checkWritable(path string) error {
	return unix.Access(path, unix.W_OK)
}
