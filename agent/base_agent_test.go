package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mender/agent"
)

func TestBaseAgent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := agent.NewBaseAgent("detector", "detect_bugs")

	assert.Equal(t, agent.StateStopped, a.State())
	assert.Equal(t, []string{"detect_bugs"}, a.Capabilities())

	require.NoError(t, a.Start(ctx))
	assert.Equal(t, agent.StateRunning, a.State())
	require.NoError(t, a.Start(ctx), "start is idempotent")

	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, agent.StateStopped, a.State())
	require.NoError(t, a.Stop(ctx), "stop is idempotent")
}

func TestBaseAgent_Hooks(t *testing.T) {
	ctx := context.Background()
	a := agent.NewBaseAgent("fixer")

	var calls []string
	a.OnStart(func(context.Context) error {
		calls = append(calls, "start")
		return nil
	})
	a.OnStop(func(context.Context) error {
		calls = append(calls, "stop")
		return nil
	})

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, []string{"start", "stop"}, calls)
}

func TestBaseAgent_FailingStartEntersErrorState(t *testing.T) {
	ctx := context.Background()
	a := agent.NewBaseAgent("validator")

	boom := errors.New("go toolchain not found")
	a.OnStart(func(context.Context) error { return boom })

	err := a.Start(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, agent.StateError, a.State())
	assert.ErrorIs(t, a.Err(), boom)

	// recover after the cause is fixed
	a.OnStart(nil)
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, agent.StateRunning, a.State())
	assert.NoError(t, a.Err())
}

func TestBaseAgent_CapabilitiesAreCopied(t *testing.T) {
	a := agent.NewBaseAgent("x", "detect_bugs")
	caps := a.Capabilities()
	caps[0] = "changed"
	assert.Equal(t, []string{"detect_bugs"}, a.Capabilities())
}
