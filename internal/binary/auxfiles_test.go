package binary

import (
	"os"
	"path/filepath"
	"testing"
)

func newAuxRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, auxDirName, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestAuxPlacement_Validate(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr bool
	}{
		{"valid_yaml", map[string]string{"config.yml": "a: 1\nb: [1, 2]\n"}, false},
		{"yaml_extension", map[string]string{"nested/config.yaml": "a: 1\n"}, false},
		{"text_is_not_parsed", map[string]string{"dict.txt": "key: [unclosed"}, false},
		{"invalid_yaml", map[string]string{"config.yml": "key: [unclosed\n"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aux := newAuxPlacement(newAuxRoot(t, tt.files), t.TempDir(), noopLogger{})
			err := aux.validate()
			if tt.wantErr {
				if KindOf(err) != KindArchive {
					t.Fatalf("expected archive error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuxPlacement_PlaceAndRollback(t *testing.T) {
	root := newAuxRoot(t, map[string]string{
		"config.yml":         "a: 1\n",
		"dict.txt":           "shipped",
		"lists/hostlist.txt": "host",
	})
	base := t.TempDir()
	dest := filepath.Join(base, "etc", "kryer")

	aux := newAuxPlacement(root, dest, noopLogger{})
	if !aux.present() {
		t.Fatal("expected cfg dir to be present")
	}

	var warnings []string
	if err := aux.place(func(msg string) { warnings = append(warnings, msg) }); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(aux.installed) != 3 {
		t.Errorf("installed = %v", aux.installed)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}

	aux.rollback()
	if _, err := os.Stat(filepath.Join(base, "etc")); !os.IsNotExist(err) {
		t.Error("rollback should remove directories it created")
	}
}

func TestAuxPlacement_SkipsExisting(t *testing.T) {
	root := newAuxRoot(t, map[string]string{"dict.txt": "shipped", "new.txt": "new"})
	dest := t.TempDir()
	writeFile(t, dest, "dict.txt", "mine")

	aux := newAuxPlacement(root, dest, noopLogger{})
	var warnings []string
	if err := aux.place(func(msg string) { warnings = append(warnings, msg) }); err != nil {
		t.Fatalf("place: %v", err)
	}

	if len(aux.skipped) != 1 || len(warnings) != 1 {
		t.Errorf("skipped=%v warnings=%v", aux.skipped, warnings)
	}

	aux.rollback()
	data, err := os.ReadFile(filepath.Join(dest, "dict.txt"))
	if err != nil || string(data) != "mine" {
		t.Errorf("existing file must survive rollback: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "new.txt")); !os.IsNotExist(err) {
		t.Error("rollback should remove files it created")
	}
	if _, err := os.Stat(dest); err != nil {
		t.Error("pre-existing config dir must survive rollback")
	}
}

func TestAuxPlacement_NotPresent(t *testing.T) {
	aux := newAuxPlacement(t.TempDir(), t.TempDir(), noopLogger{})
	if aux.present() {
		t.Error("expected no cfg dir")
	}
}
