package main

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cfschilham/kryer/internal/platform"
	"github.com/cfschilham/kryer/internal/testutil"
	"github.com/klauspost/compress/gzip"
)

const (
	newBinary = "#!/bin/sh\necho v1.2.3\n"
	oldBinary = "#!/bin/sh\necho v1.0.0\n"
)

func linuxAMD64() *platform.Info {
	return &platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "amd64"}
}

// releaseServer fakes the release API and asset downloads.
type releaseServer struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	names  []string
	auth   string
	status int // non-zero fails the release lookup
}

func newReleaseServer(t *testing.T) *releaseServer {
	t.Helper()
	s := &releaseServer{files: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/kryer/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		status := s.status
		s.mu.Unlock()
		if status != 0 {
			http.Error(w, "unavailable", status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tag_name":   "v1.2.3",
			"name":       "kryer 1.2.3",
			"assets_url": s.URL + "/assets",
		})
	})
	mux.HandleFunc("/assets", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		assets := make([]map[string]any, 0, len(s.names))
		for _, name := range s.names {
			assets = append(assets, map[string]any{
				"name":                 name,
				"browser_download_url": s.URL + "/download/" + name,
				"size":                 len(s.files[name]),
			})
		}
		_ = json.NewEncoder(w).Encode(assets)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		data, ok := s.files[strings.TrimPrefix(r.URL.Path, "/download/")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *releaseServer) failWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *releaseServer) authorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func (s *releaseServer) add(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.files[name] = data
}

// addRelease publishes the linux/amd64 archive and, optionally, a checksum
// for it.
func (s *releaseServer) addRelease(t *testing.T, checksum string) []byte {
	t.Helper()
	archive := buildArchive(t)
	s.add("kryer-linux-amd64.tar.gz", archive)
	switch checksum {
	case "":
	case "valid":
		sum := sha256.Sum256(archive)
		s.add("kryer-linux-amd64.sha256", []byte(hex.EncodeToString(sum[:])+"  kryer-linux-amd64.tar.gz\n"))
	default:
		s.add("kryer-linux-amd64.sha256", []byte(checksum+"\n"))
	}
	return archive
}

func buildArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entries := []struct {
		name    string
		content string
		mode    int64
	}{
		{"kryer-linux-amd64/", "", 0o755},
		{"kryer-linux-amd64/kryer", newBinary, 0o755},
		{"kryer-linux-amd64/cfg/", "", 0o755},
		{"kryer-linux-amd64/cfg/config.yml", "hosts:\n  - example.org\n", 0o644},
	}
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.content)), Typeflag: tar.TypeReg}
		if strings.HasSuffix(e.name, "/") {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type harness struct {
	env    *testutil.Env
	srv    *releaseServer
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	vars   map[string]string
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	h := &harness{
		env:    testutil.SetupTestEnv(t),
		srv:    newReleaseServer(t),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		vars:   make(map[string]string),
	}
	h.app = &app{
		stdin:    strings.NewReader(stdin),
		stdout:   h.stdout,
		stderr:   h.stderr,
		getenv:   func(k string) string { return h.vars[k] },
		detector: platform.StaticDetector{Info: linuxAMD64()},
	}
	return h
}

func (h *harness) installPath() string { return h.env.InstallPath("kryer") }

// run invokes the command with the flags pointing at the isolated env.
func (h *harness) run(t *testing.T, ctx context.Context, extra ...string) int {
	t.Helper()
	args := []string{
		"--api-url", h.srv.URL,
		"--project", "acme/kryer",
		"--install-path", h.installPath(),
		"--scratch-dir", h.env.ScratchDir,
		"--config-dir", h.env.ConfigDir,
	}
	return h.app.run(ctx, append(args, extra...))
}

func (h *harness) writeExisting(t *testing.T) {
	t.Helper()
	if err := os.WriteFile(h.installPath(), []byte(oldBinary), 0o755); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) assertBinary(t *testing.T, want string) {
	t.Helper()
	got, err := os.ReadFile(h.installPath())
	if err != nil {
		t.Fatalf("read installed binary: %v", err)
	}
	if string(got) != want {
		t.Errorf("installed binary = %q, want %q", got, want)
	}
}

func (h *harness) assertScratchClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.env.ScratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("scratch dir not clean: %v", names)
	}
}

func TestRun_FreshInstall(t *testing.T) {
	h := newHarness(t, "")
	h.srv.addRelease(t, "valid")

	if code := h.run(t, context.Background()); code != exitOK {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, h.stderr)
	}

	h.assertBinary(t, newBinary)
	h.assertScratchClean(t)

	info, err := os.Stat(h.installPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("installed binary mode = %v, want executable", info.Mode())
	}

	cfgFile := filepath.Join(h.env.ConfigDir, "config", "config.yml")
	if _, err := os.Stat(cfgFile); err != nil {
		t.Errorf("config file not placed: %v", err)
	}

	out := h.stdout.String()
	for _, want := range []string{"==> Resolving release acme/kryer", "==> Installed v1.2.3 to " + h.installPath(), "verified: SHA256"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRun_ExistingInstall(t *testing.T) {
	tests := []struct {
		name       string
		stdin      string
		flags      []string
		wantBinary string
		wantOut    string
	}{
		{name: "declined", stdin: "n\n", wantBinary: oldBinary, wantOut: "Keeping the existing installation"},
		{name: "default yes", stdin: "\n", wantBinary: newBinary, wantOut: "Reinstalled v1.2.3"},
		{name: "end of input declines", stdin: "", wantBinary: oldBinary, wantOut: "Keeping the existing installation"},
		{name: "non-interactive", stdin: "n\n", flags: []string{"-y"}, wantBinary: newBinary, wantOut: "Reinstalled v1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.stdin)
			h.srv.addRelease(t, "valid")
			h.writeExisting(t)

			if code := h.run(t, context.Background(), tt.flags...); code != exitOK {
				t.Fatalf("exit code = %d, want 0\nstderr: %s", code, h.stderr)
			}
			h.assertBinary(t, tt.wantBinary)
			h.assertScratchClean(t)
			if !strings.Contains(h.stdout.String(), tt.wantOut) {
				t.Errorf("stdout missing %q:\n%s", tt.wantOut, h.stdout)
			}
		})
	}
}

func TestRun_ChecksumMismatch(t *testing.T) {
	h := newHarness(t, "")
	h.srv.addRelease(t, strings.Repeat("0", 64))
	h.writeExisting(t)

	if code := h.run(t, context.Background(), "--yes"); code != exitIntegrity {
		t.Fatalf("exit code = %d, want %d\nstderr: %s", code, exitIntegrity, h.stderr)
	}

	h.assertBinary(t, oldBinary)
	h.assertScratchClean(t)
	for _, want := range []string{"checksum mismatch", "expected: " + strings.Repeat("0", 64), "computed: "} {
		if !strings.Contains(h.stderr.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, h.stderr)
		}
	}
}

func TestRun_ChecksumPolicyFlags(t *testing.T) {
	tests := []struct {
		name     string
		checksum string
		flags    []string
		wantCode int
		wantWarn bool
	}{
		{name: "absent warns by default", wantCode: exitOK, wantWarn: true},
		{name: "absent with require", flags: []string{"--require-checksum"}, wantCode: exitIntegrity},
		{name: "bad checksum skipped", checksum: strings.Repeat("f", 64), flags: []string{"--skip-checksum"}, wantCode: exitOK, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			h.srv.addRelease(t, tt.checksum)

			code := h.run(t, context.Background(), tt.flags...)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d\nstderr: %s", code, tt.wantCode, h.stderr)
			}
			if got := strings.Contains(h.stderr.String(), "warning:"); got != tt.wantWarn {
				t.Errorf("warning printed = %v, want %v\nstderr: %s", got, tt.wantWarn, h.stderr)
			}
			if tt.wantCode != exitOK {
				if _, err := os.Stat(h.installPath()); !os.IsNotExist(err) {
					t.Errorf("binary installed despite failure (stat err = %v)", err)
				}
			}
		})
	}
}

func TestRun_UnsupportedPlatform(t *testing.T) {
	t.Run("no matching asset", func(t *testing.T) {
		h := newHarness(t, "")
		h.srv.addRelease(t, "valid")
		h.app.detector = platform.StaticDetector{Info: &platform.Info{OS: "freebsd", Arch: "amd64", ArchRaw: "amd64"}}

		if code := h.run(t, context.Background()); code != exitUnsupported {
			t.Fatalf("exit code = %d, want %d\nstderr: %s", code, exitUnsupported, h.stderr)
		}
		h.assertScratchClean(t)
	})

	t.Run("undetectable platform", func(t *testing.T) {
		h := newHarness(t, "")
		h.app.detector = platform.StaticDetector{}

		if code := h.run(t, context.Background()); code != exitUnsupported {
			t.Fatalf("exit code = %d, want %d", code, exitUnsupported)
		}
	})
}

func TestRun_NetworkFailure(t *testing.T) {
	h := newHarness(t, "")
	h.srv.failWith(http.StatusNotFound)

	if code := h.run(t, context.Background()); code != exitNetwork {
		t.Fatalf("exit code = %d, want %d\nstderr: %s", code, exitNetwork, h.stderr)
	}
	if !strings.Contains(h.stderr.String(), "404") {
		t.Errorf("stderr does not mention the status:\n%s", h.stderr)
	}
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness(t, "")
	h.srv.addRelease(t, "valid")
	h.writeExisting(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code := h.run(t, ctx, "-y"); code != exitInterrupted {
		t.Fatalf("exit code = %d, want %d\nstderr: %s", code, exitInterrupted, h.stderr)
	}
	h.assertBinary(t, oldBinary)
	h.assertScratchClean(t)
}

func TestRun_Token(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{name: "none", want: ""},
		{name: "generic", vars: map[string]string{"GITHUB_TOKEN": "generic"}, want: "Bearer generic"},
		{name: "specific wins", vars: map[string]string{"GITHUB_TOKEN": "generic", "KRYER_GITHUB_TOKEN": "specific"}, want: "Bearer specific"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			h.srv.addRelease(t, "valid")
			for k, v := range tt.vars {
				h.vars[k] = v
			}

			if code := h.run(t, context.Background()); code != exitOK {
				t.Fatalf("exit code = %d\nstderr: %s", code, h.stderr)
			}
			if got := h.srv.authorization(); got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_ConfigFile(t *testing.T) {
	h := newHarness(t, "")
	h.srv.addRelease(t, "valid")

	target := filepath.Join(h.env.InstallDir, "kryer-from-config")
	cfgPath := filepath.Join(h.env.Root, "install.lua")
	code := `installer = {
  api_url = "` + h.srv.URL + `",
  project = "acme/kryer",
  install_path = platform.is_linux and "` + filepath.ToSlash(target) + `" or nil,
  scratch_dir = "` + filepath.ToSlash(h.env.ScratchDir) + `",
  config_dir = "",
}
`
	if err := os.WriteFile(cfgPath, []byte(code), 0o600); err != nil {
		t.Fatal(err)
	}
	h.vars["KRYER_INSTALL_CONFIG"] = cfgPath

	if got := h.app.run(context.Background(), nil); got != exitOK {
		t.Fatalf("exit code = %d\nstderr: %s", got, h.stderr)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("binary not installed at configured path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.env.ConfigDir, "config")); !os.IsNotExist(err) {
		t.Errorf("config files placed although config_dir is empty (stat err = %v)", err)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		lua  string
		args []string
	}{
		{name: "syntax", lua: `installer = {`},
		{name: "unknown key", lua: `installer = { colour = true }`},
		{name: "invalid value", lua: `installer = { checksum = "sometimes" }`},
		{name: "missing file", args: []string{"--config", "/nonexistent/kryer.lua"}},
		{name: "bad flag value", args: []string{"--project", "kryer"}},
		{name: "bad log level", args: []string{"--log-level", "loud"}},
		{name: "unknown flag", args: []string{"--frobnicate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			args := tt.args
			if tt.lua != "" {
				path := filepath.Join(h.env.Root, "bad.lua")
				if err := os.WriteFile(path, []byte(tt.lua), 0o600); err != nil {
					t.Fatal(err)
				}
				args = append(args, "--config", path)
			}

			if code := h.app.run(context.Background(), args); code != exitUsage {
				t.Fatalf("exit code = %d, want %d\nstderr: %s", code, exitUsage, h.stderr)
			}
			if !strings.Contains(h.stderr.String(), "error:") {
				t.Errorf("stderr has no error line:\n%s", h.stderr)
			}
		})
	}
}

func TestRun_FlagsOverrideConfigFile(t *testing.T) {
	h := newHarness(t, "")
	cfgPath := filepath.Join(h.env.Root, "install.lua")
	if err := os.WriteFile(cfgPath, []byte(`installer = { project = "other/tool", checksum = "skip" }`), 0o600); err != nil {
		t.Fatal(err)
	}

	code := h.app.run(context.Background(), []string{"--config", cfgPath, "--project", "acme/kryer", "--require-checksum", "--print-config"})
	if code != exitOK {
		t.Fatalf("exit code = %d\nstderr: %s", code, h.stderr)
	}
	out := h.stdout.String()
	for _, want := range []string{`project = "acme/kryer",`, `checksum = "required",`} {
		if !strings.Contains(out, want) {
			t.Errorf("printed config missing %q:\n%s", want, out)
		}
	}
}

func TestRun_HelpAndVersion(t *testing.T) {
	h := newHarness(t, "")
	if code := h.app.run(context.Background(), []string{"--help"}); code != exitOK {
		t.Fatalf("--help exit code = %d", code)
	}
	if !strings.Contains(h.stdout.String(), "Usage:") {
		t.Errorf("--help output:\n%s", h.stdout)
	}

	h.stdout.Reset()
	if code := h.app.run(context.Background(), []string{"--version"}); code != exitOK {
		t.Fatalf("--version exit code = %d", code)
	}
	if got := h.stdout.String(); got != "kryer-install "+Version+"\n" {
		t.Errorf("--version output = %q", got)
	}
}
