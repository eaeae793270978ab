// Package platform detects the host operating system and architecture the
// installer resolves release assets for, and exposes that information to Lua
// configuration files as a read-only table.
//
// Detection happens once per process; the resulting Info is treated as an
// immutable value and passed explicitly to every component that needs it.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64", "386", "arm" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu", "arch")
	Family   string // canonical family (e.g., "debian", "rhel")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// ID returns the lowercase identifier release assets are matched against.
func (i *Info) ID() string {
	return normalizePlatform(i.OS)
}

// ArchAliases returns the spellings of the architecture commonly found in
// release asset names, most specific first.
func (i *Info) ArchAliases() []string {
	return archAliases[i.Arch]
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsUnix returns true for the unix-like systems that ship tar.gz releases.
func (i *Info) IsUnix() bool {
	switch i.OS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return true
	}
	return false
}

// String renders the platform as "os/arch" with the distro when known.
func (i *Info) String() string {
	s := i.OS + "/" + i.Arch
	if i.Platform != "" {
		s += " (" + i.Platform
		if i.Version != "" {
			s += " " + i.Version
		}
		s += ")"
	}
	return s
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. It backs --platform style overrides
// and tests.
type StaticDetector struct {
	Info *Info
}

// Detect returns a copy of the configured Info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if s.Info == nil {
		return nil, ErrUnsupportedArch
	}
	info := *s.Info
	return &info, nil
}
