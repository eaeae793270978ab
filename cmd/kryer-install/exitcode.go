package main

import (
	"errors"

	"github.com/cfschilham/kryer/internal/binary"
	"github.com/cfschilham/kryer/internal/config"
	"github.com/cfschilham/kryer/internal/platform"
)

// Process exit codes.
const (
	exitOK          = 0
	exitUnknown     = 1
	exitUsage       = 2
	exitPermission  = 3
	exitNetwork     = 4
	exitParse       = 5
	exitIntegrity   = 6
	exitUnsupported = 7
	exitArchive     = 8
	exitInterrupted = 130
)

// exitCode maps an error to the process exit code. Cancellation wins over
// every other classification.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ue *usageError
	var pe *config.ParseError
	var ve *config.ValidationError
	switch {
	case binary.IsCancelled(err):
		return exitInterrupted
	case errors.As(err, &ue), errors.As(err, &pe), errors.As(err, &ve):
		return exitUsage
	case errors.Is(err, platform.ErrUnsupportedArch):
		return exitUnsupported
	}

	switch binary.KindOf(err) {
	case binary.KindNetwork:
		return exitNetwork
	case binary.KindParse:
		return exitParse
	case binary.KindResolution:
		return exitUnsupported
	case binary.KindPermission, binary.KindPath:
		return exitPermission
	case binary.KindIntegrity:
		return exitIntegrity
	case binary.KindArchive:
		return exitArchive
	case binary.KindCancelled:
		return exitInterrupted
	default:
		return exitUnknown
	}
}
