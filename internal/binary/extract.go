package binary

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Extract unpacks archivePath into destDir and returns the archive's single
// top-level directory. destDir is created if absent. Any existing file the
// archive would overwrite is a conflict.
func Extract(archivePath, destDir string, format ArchiveFormat) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", &Error{Kind: KindPath, Op: "create extract dir", Path: destDir, Err: err}
	}

	x := &extraction{
		dest:      filepath.Clean(destDir),
		tops:      make(map[string]bool),
		links:     make(map[string]bool),
		traversed: make(map[string]bool),
	}

	var err error
	switch format {
	case FormatTarGz:
		err = x.tarGz(archivePath)
	case FormatZip:
		err = x.zip(archivePath)
	default:
		err = fmt.Errorf("unsupported archive format %q", format)
	}
	if err != nil {
		return "", &Error{Kind: KindArchive, Op: "extract", Path: archivePath, Err: err}
	}

	root, err := x.root()
	if err != nil {
		return "", &Error{Kind: KindArchive, Op: "extract", Path: archivePath, Err: err}
	}
	return root, nil
}

// FindExecutable returns the path of the file named name inside root. A file
// directly under root wins over one in a subdirectory.
func FindExecutable(root, name string) (string, error) {
	direct := filepath.Join(root, name)
	if info, err := os.Lstat(direct); err == nil && info.Mode().IsRegular() {
		return direct, nil
	}

	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && d.Name() == name {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search for %s: %w", name, err)
	}
	if found == "" {
		return "", fmt.Errorf("%s not found in archive", name)
	}
	return found, nil
}

// extraction tracks the state of one Extract call.
type extraction struct {
	dest string
	// tops maps each top-level name to whether it is a directory.
	tops map[string]bool
	// links holds the cleaned names of extracted symlinks; traversed holds
	// every directory a symlink target walks through.
	links     map[string]bool
	traversed map[string]bool
}

func (x *extraction) tarGz(archivePath string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = x.dir(header.Name)
		case tar.TypeReg:
			err = x.file(header.Name, header.FileInfo().Mode(), tarReader)
		case tar.TypeSymlink:
			err = x.symlink(header.Name, header.Linkname)
		default:
			// Skip pax headers, devices and other special entries
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (x *extraction) zip(archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		mode := f.Mode()
		switch {
		case mode.IsDir():
			err = x.dir(f.Name)
		case mode&fs.ModeSymlink != 0:
			err = x.zipSymlink(f)
		case mode.IsRegular():
			err = x.zipFile(f)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extraction) zipFile(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return x.file(f.Name, f.Mode(), rc)
}

func (x *extraction) zipSymlink(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return fmt.Errorf("read link %s: %w", f.Name, err)
	}
	return x.symlink(f.Name, string(target))
}

// target maps an archive entry name to its cleaned slash form and a path
// under dest, and records its top-level component. Entries escaping dest or
// placed beneath an extracted symlink are rejected.
func (x *extraction) target(name string, isDir bool) (string, string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", "", nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("illegal file path: %s", name)
	}

	target := filepath.Join(x.dest, filepath.FromSlash(clean))
	if !strings.HasPrefix(target, x.dest+string(os.PathSeparator)) {
		return "", "", fmt.Errorf("illegal file path: %s", name)
	}
	for i := range len(clean) {
		if clean[i] == '/' && x.links[clean[:i]] {
			return "", "", fmt.Errorf("illegal file path: %s is beneath symlink %s", name, clean[:i])
		}
	}

	top, rest, nested := strings.Cut(clean, "/")
	x.tops[top] = x.tops[top] || isDir || (nested && rest != "")
	return clean, target, nil
}

// walkLink resolves linkname relative to the directory of the link at clean
// one component at a time and returns the directories it passes through.
// It fails when the walk leaves dest, ends at dest itself, or steps through
// a symlink extracted earlier, whose target would change the outcome.
func (x *extraction) walkLink(clean, linkname string) ([]string, bool) {
	if linkname == "" || path.IsAbs(linkname) || filepath.IsAbs(linkname) || filepath.VolumeName(linkname) != "" {
		return nil, false
	}

	var parts []string
	if dir := path.Dir(clean); dir != "." {
		parts = strings.Split(dir, "/")
	}
	var walked []string
	for _, c := range strings.Split(strings.ReplaceAll(linkname, `\`, "/"), "/") {
		if c == "" || c == "." {
			continue
		}
		cur := strings.Join(parts, "/")
		if len(parts) > 0 {
			if x.links[cur] {
				return nil, false
			}
			walked = append(walked, cur)
		}
		if c == ".." {
			if len(parts) == 0 {
				return nil, false
			}
			parts = parts[:len(parts)-1]
			continue
		}
		parts = append(parts, c)
	}
	return walked, len(parts) > 0
}

func (x *extraction) dir(name string) error {
	_, target, err := x.target(name, true)
	if err != nil || target == "" {
		return err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", target, err)
	}
	return nil
}

func (x *extraction) file(name string, mode fs.FileMode, r io.Reader) error {
	_, target, err := x.target(name, false)
	if err != nil || target == "" {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}

	perm := mode.Perm() | 0600
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrEntryConflict, target)
		}
		return fmt.Errorf("create file %s: %w", target, err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(outFile, r, buf); err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

func (x *extraction) symlink(name, linkname string) error {
	clean, target, err := x.target(name, false)
	if err != nil || target == "" {
		return err
	}

	// A link placed where an earlier link's target walks through would
	// redirect that earlier link.
	walked, ok := x.walkLink(clean, linkname)
	if !ok || x.traversed[clean] {
		return fmt.Errorf("illegal symlink %s -> %s", name, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrEntryConflict, target)
		}
		return fmt.Errorf("create symlink %s: %w", target, err)
	}
	x.links[clean] = true
	for _, dir := range walked {
		x.traversed[dir] = true
	}
	return nil
}

// root enforces the single top-level directory layout.
func (x *extraction) root() (string, error) {
	if len(x.tops) != 1 {
		names := make([]string, 0, len(x.tops))
		for name := range x.tops {
			names = append(names, name)
		}
		return "", fmt.Errorf("%w: %d top-level entries %v", ErrUnexpectedLayout, len(x.tops), names)
	}

	for name, isDir := range x.tops {
		if !isDir {
			return "", fmt.Errorf("%w: top-level entry %s is not a directory", ErrUnexpectedLayout, name)
		}
		return filepath.Join(x.dest, name), nil
	}
	return "", ErrUnexpectedLayout
}
