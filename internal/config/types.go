package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cfschilham/kryer/internal/binary"
	"github.com/cfschilham/kryer/internal/platform"
)

// Config is the effective installer configuration. It is built once from
// platform defaults, an optional Lua file and command line flags, and treated
// as immutable afterwards.
type Config struct {
	Project     string
	Binary      string
	APIURL      string
	InstallPath string
	ScratchDir  string

	// ConfigDir and ConfigSubdir together name the directory that receives
	// auxiliary files shipped with a release. An empty ConfigDir disables
	// placement.
	ConfigDir    string
	ConfigSubdir string

	// ArchiveFormat is "tar.gz", "zip" or empty to derive it from the OS.
	ArchiveFormat string

	NonInteractive bool

	// Checksum is one of "auto", "required" or "skip".
	Checksum string

	PGPKeyring       string
	MinisignKey      string
	RequireSignature bool

	Timeout  time.Duration
	Retries  int
	LogLevel string
}

// Defaults returns the configuration used when neither a Lua file nor flags
// say otherwise.
func Defaults(info *platform.Info) Config {
	c := Config{
		Project:      DefaultProject,
		Binary:       DefaultBinary,
		APIURL:       binary.DefaultAPIURL,
		ScratchDir:   os.TempDir(),
		ConfigSubdir: DefaultConfigSubdir,
		Checksum:     binary.ChecksumAuto.String(),
		Timeout:      binary.DefaultTimeout,
		LogLevel:     DefaultLogLevel,
	}

	if info != nil && info.IsWindows() {
		c.InstallPath = `C:\Program Files\Kryer\kryer.exe`
		c.ConfigDir = `C:\Program Files\Kryer`
		return c
	}

	c.InstallPath = "/usr/bin/kryer"
	c.ConfigDir = "/etc/kryer"
	return c
}

// EffectiveConfigDir joins ConfigDir and ConfigSubdir. It returns "" when
// auxiliary file placement is disabled.
func (c *Config) EffectiveConfigDir() string {
	if c.ConfigDir == "" {
		return ""
	}
	if c.ConfigSubdir == "" {
		return c.ConfigDir
	}
	return filepath.Join(c.ConfigDir, c.ConfigSubdir)
}

// Validate checks every field and returns the first problem as a
// *ValidationError.
func (c *Config) Validate() error {
	if _, _, err := binary.SplitProject(c.Project); err != nil {
		return &ValidationError{Field: luaFieldProject, Message: fmt.Sprintf("expected owner/repo, got %q", c.Project)}
	}

	if err := validateBinaryName(c.Binary); err != nil {
		return &ValidationError{Field: luaFieldBinary, Message: err.Error()}
	}

	if err := validateAPIURL(c.APIURL); err != nil {
		return &ValidationError{Field: luaFieldAPIURL, Message: err.Error()}
	}

	paths := []struct {
		field    string
		value    string
		optional bool
	}{
		{luaFieldInstallPath, c.InstallPath, false},
		{luaFieldScratchDir, c.ScratchDir, false},
		{luaFieldConfigDir, c.ConfigDir, true},
		{luaFieldPGPKeyring, c.PGPKeyring, true},
		{luaFieldMinisignKey, c.MinisignKey, true},
	}
	for _, p := range paths {
		if p.optional && p.value == "" {
			continue
		}
		if err := validateAbsPath(p.value); err != nil {
			return &ValidationError{Field: p.field, Message: err.Error()}
		}
	}

	if c.ConfigSubdir != "" {
		if filepath.IsAbs(c.ConfigSubdir) || hasDotDot(c.ConfigSubdir) {
			return &ValidationError{Field: luaFieldConfigSubdir, Message: fmt.Sprintf("must be a relative path without '..': %s", c.ConfigSubdir)}
		}
	}

	if c.ArchiveFormat != "" {
		if _, err := binary.ParseArchiveFormat(c.ArchiveFormat); err != nil {
			return &ValidationError{Field: luaFieldArchiveFormat, Message: err.Error()}
		}
	}

	policy, err := binary.ParseChecksumPolicy(c.Checksum)
	if err != nil {
		return &ValidationError{Field: luaFieldChecksum, Message: err.Error()}
	}
	if policy == binary.ChecksumSkip && c.RequireSignature {
		return &ValidationError{Field: luaFieldRequireSignature, Message: "cannot require a signature while skipping checksum verification"}
	}
	if c.RequireSignature && c.PGPKeyring == "" && c.MinisignKey == "" {
		return &ValidationError{Field: luaFieldRequireSignature, Message: "requires pgp_keyring or minisign_key"}
	}

	if c.Timeout < 0 || c.Timeout > MaxTimeoutSeconds*time.Second {
		return &ValidationError{Field: luaFieldTimeout, Message: fmt.Sprintf("must be between 0 and %d seconds", MaxTimeoutSeconds)}
	}
	if c.Retries < 0 || c.Retries > MaxRetries {
		return &ValidationError{Field: luaFieldRetries, Message: fmt.Sprintf("must be between 0 and %d", MaxRetries)}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: luaFieldLogLevel, Message: fmt.Sprintf("unknown level %q (want debug, info, warn or error)", c.LogLevel)}
	}

	return nil
}

// Options converts a validated Config into pipeline options.
func (c *Config) Options() (binary.Options, error) {
	if err := c.Validate(); err != nil {
		return binary.Options{}, err
	}

	policy, _ := binary.ParseChecksumPolicy(c.Checksum)
	var format binary.ArchiveFormat
	if c.ArchiveFormat != "" {
		format, _ = binary.ParseArchiveFormat(c.ArchiveFormat)
	}

	return binary.Options{
		Project:          c.Project,
		APIURL:           c.APIURL,
		BinaryName:       c.Binary,
		InstallPath:      filepath.Clean(c.InstallPath),
		ScratchDir:       filepath.Clean(c.ScratchDir),
		ConfigDir:        c.EffectiveConfigDir(),
		Format:           format,
		NonInteractive:   c.NonInteractive,
		Checksum:         policy,
		PGPKeyring:       c.PGPKeyring,
		MinisignKey:      c.MinisignKey,
		RequireSignature: c.RequireSignature,
	}, nil
}

// RetryPolicy derives the download retry policy from Retries.
func (c *Config) RetryPolicy() binary.RetryPolicy {
	p := binary.DefaultRetryPolicy
	p.MaxAttempts = c.Retries + 1
	return p
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func validateBinaryName(name string) error {
	if name == "" {
		return fmt.Errorf("binary name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("binary name too long (%d chars, max 255)", len(name))
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("binary name must be a plain file name: %q", name)
	}
	return nil
}

func validateAPIURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %s", raw)
	}
	return nil
}

func validateAbsPath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	if hasDotDot(path) {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}
	return nil
}

func hasDotDot(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}
