//go:build silero

package vad

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveORTLibPath returns the path to the ONNX Runtime shared library.
// Search order:
//  1. RECORDER_ORT_LIB_PATH (explicit override)
//  2. lib/<goos>-<goarch>/ relative to executable
//  3. ../lib/<goos>-<goarch>/ relative to executable (bin/ layout)
//  4. lib/<goos>-<goarch>/ relative to CWD (only if RECORDER_DEV_MODE=1)
//  5. ../lib/<goos>-<goarch>/ relative to CWD (only if RECORDER_DEV_MODE=1)
//
// CWD-based lookup is off by default to prevent shared library hijacking.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv(EnvORTLibPath); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: %s=%q does not exist", EnvORTLibPath, envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: %s=%q is a directory, expected a file", EnvORTLibPath, envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	candidates := []string{
		filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename),
		filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename),
	}

	var dirs []string
	if exePath, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exePath))
	}
	if os.Getenv(EnvDevMode) == "1" {
		if dir, err := os.Getwd(); err == nil {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		for _, rel := range candidates {
			path := filepath.Join(dir, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("ort: shared library not found; searched lib/<os>-<arch>/%s relative to executable (set %s to override, or %s=1 to enable CWD lookup)", filename, EnvORTLibPath, EnvDevMode)
}

// ortLibFilename returns the platform-specific ONNX Runtime library filename.
func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
