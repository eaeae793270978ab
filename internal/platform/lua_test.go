package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newStateWith(t *testing.T, info *Info) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable: %v", err)
	}
	return L
}

func TestInjectPlatformTable_Linux(t *testing.T) {
	L := newStateWith(t, &Info{
		OS: "linux", Arch: "amd64", ArchRaw: "amd64",
		Platform: "ubuntu", Family: FamilyDebian, Version: "22.04",
	})

	err := L.DoString(`
		assert(platform.os == "linux")
		assert(platform.arch == "amd64")
		assert(platform.is_linux == true)
		assert(platform.is_windows == false)
		assert(platform.is_unix == true)
		assert(platform.distro.id == "ubuntu")
		assert(platform.distro.family == "debian")
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInjectPlatformTable_Windows(t *testing.T) {
	L := newStateWith(t, &Info{OS: "windows", Arch: "amd64", ArchRaw: "amd64"})

	err := L.DoString(`
		assert(platform.is_windows == true)
		assert(platform.is_unix == false)
		assert(platform.distro == nil)
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlatformTable_ReadOnly(t *testing.T) {
	L := newStateWith(t, &Info{OS: "darwin", Arch: "arm64", ArchRaw: "arm64"})

	err := L.DoString(`platform.os = "linux"`)
	if err == nil {
		t.Fatal("expected error when writing to platform table")
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPlatformTable_WhenHelper(t *testing.T) {
	L := newStateWith(t, &Info{OS: "darwin", Arch: "arm64", ArchRaw: "arm64"})

	err := L.DoString(`
		result = platform.when(platform.is_macos, "/usr/local/bin")
		missing = platform.when(platform.is_windows, "C:\\bin")
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := L.GetGlobal("result"); got.String() != "/usr/local/bin" {
		t.Errorf("result = %q", got.String())
	}
	if got := L.GetGlobal("missing"); got != lua.LNil {
		t.Errorf("missing = %v, want nil", got)
	}
}
