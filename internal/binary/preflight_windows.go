//go:build windows

package binary

import (
	"fmt"
	"os"
)

// checkWritable creates and removes a probe file, since ACLs make mode bits
// meaningless on Windows.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".kryer-probe-*")
	if err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
