package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesWatcher_FiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.json")
	require.NoError(t, SaveGatePreferences(path, DefaultGatePreferences()))

	changes := make(chan GatePreferences, 4)
	w, err := NewPreferencesWatcher(path, func(p GatePreferences) { changes <- p })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	updated := GatePreferences{Build: true, Test: true, Review: true, Health: true, Budget: true}
	require.NoError(t, SaveGatePreferences(path, updated))

	select {
	case got := <-changes:
		assert.Equal(t, updated, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for preferences change notification")
	}
}
