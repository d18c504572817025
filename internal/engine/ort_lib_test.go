//go:build onnx

// Tests in this file use os.Chdir and must not run in parallel.

package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveORTLibPath_EnvOverride(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "fake_ort.so")
	require.NoError(t, os.WriteFile(lib, []byte("fake"), 0o644))

	t.Setenv(envORTLibPath, lib)
	t.Setenv(envDevMode, "")

	path, err := resolveORTLibPath()
	require.NoError(t, err)
	assert.Equal(t, lib, path)
}

func TestResolveORTLibPath_EnvOverrideMissing(t *testing.T) {
	t.Setenv(envORTLibPath, "/nonexistent/path/to/ort.so")
	t.Setenv(envDevMode, "")

	_, err := resolveORTLibPath()
	assert.Error(t, err)
}

func TestResolveORTLibPath_EnvOverrideIsDirectory(t *testing.T) {
	t.Setenv(envORTLibPath, t.TempDir())
	t.Setenv(envDevMode, "")

	_, err := resolveORTLibPath()
	assert.Error(t, err)
}

func TestResolveORTLibPath_CwdFallbackDevMode(t *testing.T) {
	root := t.TempDir()
	libDir := filepath.Join(root, "lib", runtime.GOOS+"-"+runtime.GOARCH)
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	libPath := filepath.Join(libDir, ortLibFilename())
	require.NoError(t, os.WriteFile(libPath, []byte("fake"), 0o644))

	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { os.Chdir(orig) })

	t.Setenv(envORTLibPath, "")
	t.Setenv(envDevMode, "1")

	path, err := resolveORTLibPath()
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(libPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestORTLibCandidates(t *testing.T) {
	rel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, ortLibFilename())

	got := ortLibCandidates("/opt/vad/bin", "")
	assert.Equal(t, []string{
		filepath.Join("/opt/vad/bin", rel),
		filepath.Join("/opt/vad/bin", "..", rel),
	}, got)

	got = ortLibCandidates("", "/work")
	assert.Equal(t, []string{
		filepath.Join("/work", rel),
		filepath.Join("/work", "..", rel),
	}, got)

	assert.Empty(t, ortLibCandidates("", ""))
}

func TestOrtLibFilename(t *testing.T) {
	want := map[string]string{
		"darwin":  "libonnxruntime.dylib",
		"windows": "onnxruntime.dll",
	}[runtime.GOOS]
	if want == "" {
		want = "libonnxruntime.so"
	}
	assert.Equal(t, want, ortLibFilename())
}

func TestModelAvailable(t *testing.T) {
	assert.True(t, ModelAvailable())
}

func TestNewModelScorer_MissingFile(t *testing.T) {
	_, err := NewModelScorer(filepath.Join(t.TempDir(), "missing.onnx"), DefaultFrameLength)
	assert.Error(t, err)
}

func TestNewModelScorer_InvalidFrameLength(t *testing.T) {
	_, err := NewModelScorer("unused.onnx", 0)
	assert.ErrorIs(t, err, ErrConfig)
}
