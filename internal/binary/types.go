package binary

import (
	"fmt"
	"strings"
	"time"
)

// ReleaseMetadata is the subset of the "latest release" response the
// installer relies on.
type ReleaseMetadata struct {
	TagName   string  `json:"tag_name"`
	Name      string  `json:"name"`
	AssetsURL string  `json:"assets_url"`
	Assets    []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"` // size hint, 0 when unknown
}

// InstallTarget is owned by a single run. ScratchDir is the per-run
// directory below Options.ScratchDir and is empty until it exists.
type InstallTarget struct {
	BinaryPath string
	ScratchDir string
}

// Algorithm names a digest algorithm.
type Algorithm string

// AlgorithmSHA256 is the only supported checksum algorithm.
const AlgorithmSHA256 Algorithm = "sha256"

// ChecksumRecord is a parsed checksum asset.
type ChecksumRecord struct {
	Algorithm   Algorithm
	ExpectedHex string
}

// ArchiveFormat identifies how a release asset is packed.
type ArchiveFormat string

const (
	FormatTarGz ArchiveFormat = "tar.gz"
	FormatZip   ArchiveFormat = "zip"
)

// Extension returns the file name suffix for the format, including the dot.
func (f ArchiveFormat) Extension() string {
	return "." + string(f)
}

// ParseArchiveFormat accepts "tar.gz", "tgz" and "zip".
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unknown archive format %q", s)
	}
}

// ChecksumPolicy decides what happens when a release has or lacks a
// checksum asset.
type ChecksumPolicy int

const (
	// ChecksumAuto verifies when a checksum asset exists and warns otherwise.
	ChecksumAuto ChecksumPolicy = iota
	// ChecksumRequired fails the run before download when no checksum exists.
	ChecksumRequired
	// ChecksumSkip never verifies.
	ChecksumSkip
)

func (p ChecksumPolicy) String() string {
	switch p {
	case ChecksumAuto:
		return "auto"
	case ChecksumRequired:
		return "required"
	case ChecksumSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseChecksumPolicy parses the configuration spelling of a policy.
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ChecksumAuto, nil
	case "required", "require":
		return ChecksumRequired, nil
	case "skip", "none":
		return ChecksumSkip, nil
	default:
		return ChecksumAuto, fmt.Errorf("unknown checksum policy %q", s)
	}
}

// VerificationMethod indicates how an archive was verified
type VerificationMethod int

const (
	// VerificationNone means the archive was installed unverified
	VerificationNone VerificationMethod = iota
	// VerificationSHA256 means the published sha256 checksum matched
	VerificationSHA256
	// VerificationPGP means a detached PGP signature verified
	VerificationPGP
	// VerificationMinisign means a minisign signature verified
	VerificationMinisign
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationSHA256:
		return "SHA256"
	case VerificationPGP:
		return "PGP"
	case VerificationMinisign:
		return "minisign"
	case VerificationNone:
		return "None"
	default:
		return "Unknown"
	}
}

// VerificationResult contains the outcome of a verification attempt
type VerificationResult struct {
	Method  VerificationMethod
	Success bool
	Error   error
}

// Options configures a single install run. The value is not modified by Run.
type Options struct {
	// Project is the release project as "owner/repo".
	Project string
	// APIURL is the base URL of the release host API.
	APIURL string
	// BinaryName is the executable looked up inside the archive.
	BinaryName string
	// InstallPath is the final location of the executable.
	InstallPath string
	// ScratchDir is the root under which the per-run scratch directory is made.
	ScratchDir string
	// ConfigDir receives auxiliary files shipped under cfg/ in the archive.
	// Empty disables placement.
	ConfigDir string
	// Format overrides the archive format derived from the platform.
	Format ArchiveFormat

	NonInteractive bool
	Checksum       ChecksumPolicy

	// PGPKeyring and MinisignKey enable signature verification when set.
	PGPKeyring       string
	MinisignKey      string
	RequireSignature bool
}

// InstallResult describes a finished run.
type InstallResult struct {
	RunID      string
	State      State
	Tag        string
	Asset      string
	BinaryPath string

	// Replaced is true when a previous binary was swapped out.
	Replaced bool
	// Declined is true when the user chose not to reinstall.
	Declined bool

	Verification    []VerificationResult
	ConfigInstalled []string
	ConfigSkipped   []string
	Duration        time.Duration
}

// Verified reports whether any verification method succeeded.
func (r *InstallResult) Verified() bool {
	for _, v := range r.Verification {
		if v.Success && v.Method != VerificationNone {
			return true
		}
	}
	return false
}
