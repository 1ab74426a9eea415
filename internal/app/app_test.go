package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/media/sniffer"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Storage.Root = filepath.Join(t.TempDir(), "images")
	return cfg
}

func TestPolicyFromConfig(t *testing.T) {
	policy := Policy(config.UploadConfig{
		MaxBytes: 1024,
		Types:    []config.TypeConfig{{MIME: "image/png", Family: "png", Extensions: []string{"png"}}},
	})
	assert.Equal(t, int64(1024), policy.MaxBytes)
	require.Len(t, policy.Types, 1)
	assert.Equal(t, sniffer.TypePNG, policy.Types[0].Family)
}

func TestNewWiresInlineLocalApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true

	a, err := New(context.Background(), cfg, zerolog.Nop(), Options{DeriveMode: config.DeriveInline})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.NotNil(t, a.Registry)
	assert.Len(t, a.Engine.Specs(), 3)
	assert.Contains(t, a.Checks(), "storage")
	assert.NoError(t, a.Checks()["storage"](context.Background()))
	assert.DirExists(t, filepath.Join(cfg.Storage.Root, "thumbnails"))

	assert.NoError(t, a.Sweep(context.Background()))
}

func TestNewRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{DeriveMode: "carrier-pigeon"})
	assert.Error(t, err)
}
