package binary

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
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

	"github.com/klauspost/compress/zip"

	"github.com/cfschilham/kryer/internal/platform"
)

// testEntry is one archive member. Names ending in "/" are directories.
type testEntry struct {
	name    string
	content string
	mode    int64
	link    string
}

func linuxAMD64() *platform.Info {
	return &platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "amd64"}
}

// createTestTarGz writes entries, in order, to a tar.gz archive
func createTestTarGz(t *testing.T, entries []testEntry) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "test.tar.gz")
	if err := os.WriteFile(archivePath, tarGzBytes(t, entries), 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return archivePath
}

func tarGzBytes(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, e := range entries {
		header := &tar.Header{Name: e.name, Mode: e.mode}
		switch {
		case strings.HasSuffix(e.name, "/"):
			header.Typeflag = tar.TypeDir
			if header.Mode == 0 {
				header.Mode = 0755
			}
		case e.link != "":
			header.Typeflag = tar.TypeSymlink
			header.Linkname = e.link
		default:
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(e.content))
			if header.Mode == 0 {
				header.Mode = 0644
			}
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.name, err)
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := tarWriter.Write([]byte(e.content)); err != nil {
				t.Fatalf("failed to write content for %s: %v", e.name, err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// createTestZip writes entries, in order, to a zip archive
func createTestZip(t *testing.T, entries []testEntry) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.name, err)
		}
		if !strings.HasSuffix(e.name, "/") {
			if _, err := w.Write([]byte(e.content)); err != nil {
				t.Fatalf("failed to write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return archivePath
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// releaseArchive is the archive most tests install: one top-level directory
// holding the binary.
func releaseArchive(t *testing.T, binary string) []byte {
	t.Helper()
	return tarGzBytes(t, []testEntry{
		{name: "kryer-linux-amd64/"},
		{name: "kryer-linux-amd64/kryer", content: binary, mode: 0755},
		{name: "kryer-linux-amd64/README.md", content: "docs"},
	})
}

// fakeRelease serves a latest-release endpoint, an asset listing and the
// asset downloads from memory.
type fakeRelease struct {
	server *httptest.Server

	mu        sync.Mutex
	names     []string
	files     map[string][]byte
	downloads []string
	userAgent string

	// onDownload, when set, handles asset downloads instead of the default.
	onDownload func(w http.ResponseWriter, r *http.Request, name string)
}

func newFakeRelease(t *testing.T) *fakeRelease {
	t.Helper()

	f := &fakeRelease{files: make(map[string][]byte)}
	mux := http.NewServeMux()

	mux.HandleFunc("/repos/acme/kryer/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.userAgent = r.Header.Get("User-Agent")
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"tag_name":   "v1.2.3",
			"name":       "Kryer 1.2.3",
			"assets_url": f.server.URL + "/assets",
		})
	})

	mux.HandleFunc("/assets", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		list := make([]map[string]any, 0, len(f.names))
		for _, name := range f.names {
			list = append(list, map[string]any{
				"name":                 name,
				"browser_download_url": f.server.URL + "/download/" + name,
				"size":                 len(f.files[name]),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	})

	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/download/")

		f.mu.Lock()
		f.downloads = append(f.downloads, name)
		data, ok := f.files[name]
		handler := f.onDownload
		f.mu.Unlock()

		if handler != nil {
			handler(w, r, name)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelease) add(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.files[name] = data
}

// addArchive publishes the archive and, when withChecksum is set, a
// matching .sha256 asset.
func (f *fakeRelease) addArchive(name string, data []byte, withChecksum bool) {
	f.add(name, data)
	if withChecksum {
		f.add(TrimArchiveExt(name)+".sha256", []byte(sha256Hex(data)+"  "+name+"\n"))
	}
}

func (f *fakeRelease) setOnDownload(h func(w http.ResponseWriter, r *http.Request, name string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDownload = h
}

func (f *fakeRelease) lastUserAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAgent
}

func (f *fakeRelease) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

// assertDirEmpty fails when dir has any entries left.
func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected %s to be empty, found %v", dir, names)
	}
}
