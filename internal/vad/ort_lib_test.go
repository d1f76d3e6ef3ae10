//go:build silero

package vad

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Executable-relative lookup is covered by the model integration tests when
// the library ships next to the test binary; these cover the env and CWD paths.

func TestResolveORTLibPathEnvOverride(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "fake_ort.so")
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "file", value: lib, want: lib},
		{name: "missing", value: filepath.Join(dir, "nope.so"), wantErr: true},
		{name: "directory", value: dir, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvORTLibPath, tc.value)
			t.Setenv(EnvDevMode, "")
			got, err := resolveORTLibPath()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s=%q", EnvORTLibPath, tc.value)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("path = %q, want %q", got, tc.want)
			}
		})
	}
}

// fakeLibTree creates lib/<os>-<arch>/<libname> under a temp dir, changes
// into it and returns the library path. Tests using it must not run in parallel.
func fakeLibTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	libDir := filepath.Join(dir, "lib", runtime.GOOS+"-"+runtime.GOARCH)
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	lib := filepath.Join(libDir, ortLibFilename())
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	resolved, err := filepath.EvalSymlinks(lib)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

func TestResolveORTLibPathDevModeUsesCWD(t *testing.T) {
	lib := fakeLibTree(t)
	t.Setenv(EnvORTLibPath, "")
	t.Setenv(EnvDevMode, "1")

	path, err := resolveORTLibPath()
	if err != nil {
		t.Fatalf("resolveORTLibPath in dev mode: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != lib {
		t.Fatalf("path = %q, want %q", resolved, lib)
	}
}

func TestResolveORTLibPathIgnoresCWDWithoutDevMode(t *testing.T) {
	lib := fakeLibTree(t)
	t.Setenv(EnvORTLibPath, "")
	t.Setenv(EnvDevMode, "")

	path, err := resolveORTLibPath()
	if err != nil {
		return
	}
	// Found next to the executable; it must not be the CWD copy.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved == lib {
		t.Fatalf("CWD library %q used without %s=1", path, EnvDevMode)
	}
}

func TestOrtLibFilename(t *testing.T) {
	want := map[string]string{
		"darwin":  "libonnxruntime.dylib",
		"windows": "onnxruntime.dll",
	}[runtime.GOOS]
	if want == "" {
		want = "libonnxruntime.so"
	}
	if got := ortLibFilename(); got != want {
		t.Fatalf("ortLibFilename() = %q, want %q", got, want)
	}
}
