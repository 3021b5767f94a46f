package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightfall-oss/cutespam/internal/config"
)

func TestNewWithEmptyImageFolderLeavesCatalogEmpty(t *testing.T) {
	imageDir := t.TempDir()
	dbDir := t.TempDir()

	cfg := config.Default()
	cfg.ImageFolder = imageDir
	cfg.HashLength = 16
	require.NoError(t, cfg.Validate())

	c, err := New(context.Background(), &cfg, filepath.Join(dbDir, "catalog.db"))
	require.NoError(t, err)
	defer c.Close()

	uids, err := c.Catalog.ListAllUIDs(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, uids)
}

func TestNewFailsOnMissingImageFolder(t *testing.T) {
	cfg := config.Default()
	cfg.ImageFolder = filepath.Join(os.TempDir(), "cutespam-does-not-exist-xyz")
	cfg.HashLength = 16

	_, err := New(context.Background(), &cfg, ":memory:")
	require.Error(t, err)
}
