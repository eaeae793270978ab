package binary

import (
	"fmt"
	"strings"

	"github.com/cfschilham/kryer/internal/platform"
)

// Target is what the resolver matches asset names against.
type Target struct {
	// ID is the lowercase platform identifier, e.g. "linux" or "darwin".
	ID string
	// Arch lists architecture spellings in preference order. May be empty.
	Arch []string
	// Format is the archive format expected for this platform.
	Format ArchiveFormat
}

// TargetFor builds a Target from detected platform information. An empty
// format selects zip on Windows and tar.gz elsewhere.
func TargetFor(info *platform.Info, format ArchiveFormat) Target {
	if format == "" {
		format = FormatTarGz
		if info.IsWindows() {
			format = FormatZip
		}
	}
	return Target{
		ID:     info.ID(),
		Arch:   info.ArchAliases(),
		Format: format,
	}
}

// SelectBinaryAsset picks the release archive for target.
//
// Candidates are assets whose name contains target.ID and ends in the
// archive extension. The first candidate that also names the host
// architecture wins; otherwise the first candidate wins. Ties are broken by
// listing order, which the release host does not promise to keep stable.
func SelectBinaryAsset(assets []Asset, target Target) (Asset, error) {
	id := strings.ToLower(target.ID)
	ext := target.Format.Extension()

	var candidates []Asset
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if id != "" && strings.Contains(name, id) && strings.HasSuffix(name, ext) {
			candidates = append(candidates, a)
		}
	}

	if len(candidates) == 0 {
		return Asset{}, &Error{
			Kind: KindResolution,
			Op:   "resolve asset",
			Err:  fmt.Errorf("%w: want *%s*%s", ErrUnsupportedPlatform, id, ext),
		}
	}

	for _, alias := range target.Arch {
		for _, c := range candidates {
			if mentionsArch(strings.ToLower(c.Name), alias) {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}

// SelectChecksumAsset finds "<binaryName without archive extension>.sha256".
// ok is false when the release publishes no such asset.
func SelectChecksumAsset(assets []Asset, binaryName string) (Asset, bool) {
	return findAsset(assets, TrimArchiveExt(binaryName)+".sha256")
}

// SelectSignatureAsset finds a detached signature for binaryName, preferring
// the kinds the caller can verify.
func SelectSignatureAsset(assets []Asset, binaryName string, pgp, minisign bool) (Asset, SignatureKind, bool) {
	if pgp {
		for _, suffix := range []string{".asc", ".sig"} {
			if a, ok := findAsset(assets, binaryName+suffix); ok {
				return a, SignaturePGP, true
			}
		}
	}
	if minisign {
		if a, ok := findAsset(assets, binaryName+".minisig"); ok {
			return a, SignatureMinisign, true
		}
	}
	return Asset{}, SignatureNone, false
}

// TrimArchiveExt strips a known archive extension from name.
func TrimArchiveExt(name string) string {
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func findAsset(assets []Asset, name string) (Asset, bool) {
	for _, a := range assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// mentionsArch reports whether alias appears in name as a whole word, so
// "arm" does not match "arm64" and "x86" does not match "x86_64".
func mentionsArch(name, alias string) bool {
	for start := 0; ; {
		i := strings.Index(name[start:], alias)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(alias)

		before := i == 0 || !isAlnum(name[i-1])
		after := end == len(name) || (!isAlnum(name[end]) && !strings.HasPrefix(name[end:], "_64"))
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
