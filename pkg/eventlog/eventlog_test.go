package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ember-gateway/ember/pkg/registry"
)

func TestEventLogRecordsAndQueriesTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	el, err := Open(path, nil)
	require.NoError(t, err)
	defer el.Close()

	el.OnTransition("llama-7b", registry.StateStopped, registry.StateStarting)
	el.OnTransition("llama-7b", registry.StateStarting, registry.StateReady)
	el.OnTransition("other-model", registry.StateStopped, registry.StateStarting)

	got, err := el.Recent(context.Background(), "llama-7b", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, string(registry.StateStarting), got[0].FromState)
	require.Equal(t, string(registry.StateReady), got[0].ToState)
	require.Equal(t, string(registry.StateStopped), got[1].FromState)
}

func TestEventLogRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	el, err := Open(path, nil)
	require.NoError(t, err)
	defer el.Close()

	for i := 0; i < 5; i++ {
		el.OnTransition("m", registry.StateReady, registry.StateStopping)
		el.OnTransition("m", registry.StateStopping, registry.StateStopped)
	}

	got, err := el.Recent(context.Background(), "m", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestEventLogReopenPreservesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	el, err := Open(path, nil)
	require.NoError(t, err)
	el.OnTransition("m", registry.StateStopped, registry.StateStarting)
	require.NoError(t, el.Close())

	el2, err := Open(path, nil)
	require.NoError(t, err)
	defer el2.Close()

	got, err := el2.Recent(context.Background(), "m", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
