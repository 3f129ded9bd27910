package conf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEmbeddedDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", s.HTTPAddr)
	assert.Equal(t, "ffmpeg", s.FFmpegPath)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("EPHYR_RESTREAMER_HTTP_ADDR", "127.0.0.1:9090")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", s.HTTPAddr)
}

func TestLoadConfigFileOverridesDefault(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "conf-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("ffmpeg_path: /opt/ffmpeg/ffmpeg\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/ffmpeg", s.FFmpegPath)
}
