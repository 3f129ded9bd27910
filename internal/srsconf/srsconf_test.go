package srsconf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	cfg := Config{
		RTMPPort: 1935, HTTPPort: 8000, HTTPAPIPort: 1985,
		CallbackURL: "http://127.0.0.1:8080/callback",
		VHosts: []VHost{
			{Key: "zzz", HLSEnabled: true},
			{Key: "aaa", DVRPaths: []string{"/var/dvr/aaa/out1.flv"}},
		},
	}
	a, err := Render(cfg)
	require.NoError(t, err)

	cfg.VHosts[0], cfg.VHosts[1] = cfg.VHosts[1], cfg.VHosts[0]
	b, err := Render(cfg)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRenderIncludesCallbackHooksAndHLS(t *testing.T) {
	cfg := Config{
		CallbackURL: "http://127.0.0.1:8080/callback",
		VHosts:      []VHost{{Key: "live", HLSEnabled: true}},
	}
	out, err := Render(cfg)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "on_publish      http://127.0.0.1:8080/callback/on_publish;")
	assert.Contains(t, s, "hls {")
}

func TestApplySkipsReloadWhenContentUnchanged(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "srs.conf"))
	cfg := Config{CallbackURL: "http://x", VHosts: []VHost{{Key: "a"}}}

	require.NoError(t, w.Apply(nil, cfg, 0))
	// No process has this pid, so a reload attempt would return an error.
	require.NoError(t, w.Apply(nil, cfg, 99999999))
}
