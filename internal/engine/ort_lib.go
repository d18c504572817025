//go:build onnx

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	envORTLibPath = "VAD_ORT_LIB_PATH"
	envDevMode    = "VAD_DEV_MODE"
)

// resolveORTLibPath returns the path to the ONNX Runtime shared library.
// VAD_ORT_LIB_PATH wins when set; otherwise lib/<goos>-<goarch>/ is searched
// next to the executable and one level above it. The working directory is
// only searched with VAD_DEV_MODE=1 to prevent shared library hijacking.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv(envORTLibPath); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: %s=%q does not exist", envORTLibPath, envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: %s=%q is a directory, expected a file", envORTLibPath, envPath)
		}
		return envPath, nil
	}

	var exeDir, cwd string
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
	}
	if os.Getenv(envDevMode) == "1" {
		if dir, err := os.Getwd(); err == nil {
			cwd = dir
		}
	}

	for _, path := range ortLibCandidates(exeDir, cwd) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("ort: shared library not found; searched lib/<os>-<arch>/%s relative to executable (set %s to override, or %s=1 to enable CWD lookup)",
		ortLibFilename(), envORTLibPath, envDevMode)
}

// ortLibCandidates lists search locations in priority order. Empty base
// directories are skipped.
func ortLibCandidates(exeDir, cwd string) []string {
	rel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, ortLibFilename())
	var out []string
	for _, base := range []string{exeDir, cwd} {
		if base == "" {
			continue
		}
		out = append(out, filepath.Join(base, rel), filepath.Join(base, "..", rel))
	}
	return out
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
