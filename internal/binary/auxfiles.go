package binary

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// auxDirName is the directory inside the extracted root holding files that
// belong in the configuration directory.
const auxDirName = "cfg"

// auxPlacement copies shipped configuration files into a config directory.
// Existing files are never overwritten. Everything created can be undone
// with rollback.
type auxPlacement struct {
	src  string
	dest string
	log  Logger

	installed   []string
	skipped     []string
	createdDirs []string
}

func newAuxPlacement(root, configDir string, log Logger) *auxPlacement {
	return &auxPlacement{src: filepath.Join(root, auxDirName), dest: configDir, log: log}
}

// present reports whether the archive ships a cfg directory.
func (a *auxPlacement) present() bool {
	info, err := os.Stat(a.src)
	return err == nil && info.IsDir()
}

// validate parses every YAML file before anything is written.
func (a *auxPlacement) validate() error {
	return filepath.WalkDir(a.src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !isYAML(p) {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return &Error{Kind: KindArchive, Op: "read config file", Path: p, Err: err}
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return &Error{Kind: KindArchive, Op: "invalid yaml in archive", Path: p, Err: err}
		}
		return nil
	})
}

// place copies each file that does not yet exist in dest.
func (a *auxPlacement) place(warn func(string)) error {
	if err := a.mkdirAll(a.dest); err != nil {
		return err
	}

	return filepath.WalkDir(a.src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a.src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(a.dest, rel)

		switch {
		case d.IsDir():
			return a.mkdirAll(target)
		case !d.Type().IsRegular():
			return nil
		}

		if _, err := os.Lstat(target); err == nil {
			a.skipped = append(a.skipped, target)
			warn(fmt.Sprintf("keeping existing %s", target))
			a.log.Warn("config file exists, skipped", "path", target)
			return nil
		}

		if err := copyNewFile(p, target); err != nil {
			return &Error{Kind: KindPermission, Op: "install config file", Path: target, Err: err}
		}
		a.installed = append(a.installed, target)
		a.log.Debug("config file installed", "path", target)
		return nil
	})
}

// mkdirAll creates dir and its parents, recording the ones it created.
func (a *auxPlacement) mkdirAll(dir string) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return &Error{Kind: KindPermission, Op: "stat config dir", Path: d, Err: err}
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}

	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			return &Error{Kind: KindPermission, Op: "create config dir", Path: missing[i], Err: err}
		}
		a.createdDirs = append(a.createdDirs, missing[i])
	}
	return nil
}

// rollback removes files and directories created by place, newest first.
func (a *auxPlacement) rollback() {
	for i := len(a.installed) - 1; i >= 0; i-- {
		if err := os.Remove(a.installed[i]); err != nil {
			a.log.Warn("remove config file failed", "path", a.installed[i], "error", err)
		}
	}
	for i := len(a.createdDirs) - 1; i >= 0; i-- {
		// Only empty directories go; user files added meanwhile stay.
		os.Remove(a.createdDirs[i])
	}
	a.installed = nil
	a.createdDirs = nil
}

func copyNewFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func isYAML(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	return ext == ".yml" || ext == ".yaml"
}
