package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}

func TestQdrantAddress(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "localhost:6334", cfg.QdrantAddress())
}

func TestUndoRetention_DefaultsWhenUnset(t *testing.T) {
	cfg := Config{}
	require.Equal(t, 30*24*time.Hour, cfg.UndoRetention())

	cfg.UndoRetentionDays = 7
	require.Equal(t, 7*24*time.Hour, cfg.UndoRetention())
}

func TestBackupStores(t *testing.T) {
	require.Nil(t, BackupStores(" "))
	require.Equal(t, []string{"structured", "cache"}, BackupStores("structured, cache,"))
}
