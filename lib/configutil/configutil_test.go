package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Url      string `json:"url"`
	Interval int    `json:"interval"`
	Verbose  bool   `json:"verbose"`
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		url: "http://default",
		interval: 30,
	}`), 0600)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		url: "http://local",
	}`), 0600)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "http://local", cfg.Url)
	require.Equal(t, 30, cfg.Interval)
}

func TestReadConfigNotFound(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadConfigDefault(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{url: "http://set"}`), 0600)
	require.NoError(t, err)

	defaults := testConfig{Url: "http://default", Interval: 30}

	cfg, err := ReadConfigDefault(filepath.Join(dir, "config.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, testConfig{Url: "http://set", Interval: 30}, cfg)

	cfg, err = ReadConfigDefault(filepath.Join(dir, "missing.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, cfg)
}

func TestReadConfigDefaultKeepsZeroValues(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{interval: 0}`), 0600)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{verbose: false, url: "http://local"}`), 0600)
	require.NoError(t, err)

	defaults := testConfig{Url: "http://default", Interval: 30, Verbose: true}

	cfg, err := ReadConfigDefault(filepath.Join(dir, "config.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, testConfig{Url: "http://local", Interval: 0, Verbose: false}, cfg)
}
