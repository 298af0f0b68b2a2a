package agent_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"mender/agent"
	"mender/logging"
)

func newCoordinator(t *testing.T, opts agent.Options) *agent.Coordinator {
	t.Helper()
	c := agent.NewCoordinator(opts)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func startedAgent(t *testing.T, name string, fn agent.RunFunc, capabilities ...string) *agent.FuncAgent {
	t.Helper()
	a := agent.NewFuncAgent(name, fn, capabilities...)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func sleepingRun(d time.Duration, payload any) agent.RunFunc {
	return func(ctx context.Context, _ *agent.Task) (*agent.Result, error) {
		select {
		case <-time.After(d):
			return agent.Succeeded(payload), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func assignNew(t *testing.T, c *agent.Coordinator, taskType string, payload any, agentName string) string {
	t.Helper()
	id, err := c.CreateTask(taskType, payload)
	require.NoError(t, err)
	require.NoError(t, c.AssignTask(id, agentName))
	return id
}

func TestCoordinator_StartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	c := agent.NewCoordinator(agent.DefaultOptions())

	assert.False(t, c.IsRunning())
	require.NoError(t, c.Stop(ctx), "stop before start is a no-op")

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.IsRunning())

	require.NoError(t, c.Start(ctx), "restart after stop")
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Stop(ctx))
}

func TestCoordinator_RegisterRequiresRunning(t *testing.T) {
	c := agent.NewCoordinator(agent.DefaultOptions())

	err := c.RegisterAgent("detector", agent.NewFuncAgent("detector", noopRun))
	assert.ErrorIs(t, err, agent.ErrNotRunning)

	_, err = c.CreateTask("detect_bugs", nil)
	assert.ErrorIs(t, err, agent.ErrNotRunning)
}

func TestCoordinator_DuplicateRegistrationKeepsFirst(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	first := startedAgent(t, "first", sleepingRun(0, "first"))
	second := startedAgent(t, "second", sleepingRun(0, "second"))

	require.NoError(t, c.RegisterAgent("detector", first))
	err := c.RegisterAgent("detector", second)
	require.ErrorIs(t, err, agent.ErrDuplicateName)

	id := assignNew(t, c, "detect_bugs", nil, "detector")
	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Payload)
}

func TestCoordinator_DetectStubReturnsExactResult(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	want := map[string]any{
		"detection_results": map[string]any{
			"issues":          []any{},
			"total_issues":    0,
			"detection_tools": []any{},
		},
	}
	stub := startedAgent(t, "detector", func(_ context.Context, task *agent.Task) (*agent.Result, error) {
		return agent.Succeeded(want), nil
	}, "detect_bugs")
	require.NoError(t, c.RegisterAgent("detector", stub))

	id := assignNew(t, c, "detect_bugs", map[string]any{"file_path": "a.py", "options": map[string]any{}}, "detector")

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, want, res.Payload)
	assert.Equal(t, id, res.TaskID)
	assert.Equal(t, "detector", res.Agent)

	task, err := c.Task(id)
	require.NoError(t, err)
	assert.Equal(t, agent.TaskSucceeded, task.Status)
	assert.Equal(t, "detector", task.AssignedTo)
}

func TestCoordinator_AgentSeesTaskSnapshot(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	seen := make(chan agent.Task, 1)
	a := startedAgent(t, "detector", func(_ context.Context, task *agent.Task) (*agent.Result, error) {
		seen <- *task
		task.Status = agent.TaskCancelled // must not leak into the table
		return agent.Succeeded(nil), nil
	})
	require.NoError(t, c.RegisterAgent("detector", a))

	id := assignNew(t, c, "detect_bugs", map[string]any{"file_path": "x.go"}, "detector")
	_, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, id, got.ID)
	assert.Equal(t, agent.TaskRunning, got.Status)
	assert.Equal(t, map[string]any{"file_path": "x.go"}, got.Payload)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskSucceeded, task.Status)
}

func TestCoordinator_LateSuccessReplacesTimeout(t *testing.T) {
	c := newCoordinator(t, agent.Options{LateResultPolicy: agent.LatestWriteWins})

	slow := startedAgent(t, "slow", sleepingRun(300*time.Millisecond, "eventual"))
	require.NoError(t, c.RegisterAgent("slow", slow))
	id := assignNew(t, c, "detect_bugs", nil, "slow")

	start := time.Now()
	_, err := c.GetResult(context.Background(), id, 50*time.Millisecond)
	require.ErrorIs(t, err, agent.ErrTimeout)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	var timeoutErr *agent.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, id, timeoutErr.TaskID)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskTimedOut, task.Status)

	res, err := c.GetResult(context.Background(), id, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "eventual", res.Payload)

	task, _ = c.Task(id)
	assert.Equal(t, agent.TaskSucceeded, task.Status)
}

func TestCoordinator_LateSuccessKeptUnderFirstWriteWins(t *testing.T) {
	c := newCoordinator(t, agent.Options{LateResultPolicy: agent.FirstWriteWins})

	slow := startedAgent(t, "slow", sleepingRun(150*time.Millisecond, "eventual"))
	require.NoError(t, c.RegisterAgent("slow", slow))
	id := assignNew(t, c, "detect_bugs", nil, "slow")

	_, err := c.GetResult(context.Background(), id, 30*time.Millisecond)
	require.ErrorIs(t, err, agent.ErrTimeout)

	require.Eventually(t, func() bool {
		task, _ := c.Task(id)
		return task.LateResult != nil
	}, 5*time.Second, 10*time.Millisecond)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskTimedOut, task.Status)
	assert.Equal(t, "eventual", task.LateResult.Payload)

	_, err = c.GetResult(context.Background(), id, time.Second)
	assert.ErrorIs(t, err, agent.ErrTimeout)
}

func TestCoordinator_AgentErrorBecomesFailedTask(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	a := startedAgent(t, "fixer", func(context.Context, *agent.Task) (*agent.Result, error) {
		return nil, errors.New("file not found: a.go")
	})
	require.NoError(t, c.RegisterAgent("fixer", a))
	id := assignNew(t, c, "fix_issues", nil, "fixer")

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "file not found: a.go")

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskFailed, task.Status)
}

func TestCoordinator_UnsuccessfulResultBecomesFailedTask(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	a := startedAgent(t, "validator", func(context.Context, *agent.Task) (*agent.Result, error) {
		return agent.Failed("coverage 40% below 70%").WithPayload(map[string]any{"coverage": 40}), nil
	})
	require.NoError(t, c.RegisterAgent("validator", a))
	id := assignNew(t, c, "validate_fix", nil, "validator")

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, map[string]any{"coverage": 40}, res.Payload)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskFailed, task.Status)
}

func TestCoordinator_NilResultBecomesFailedTask(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	a := startedAgent(t, "broken", func(context.Context, *agent.Task) (*agent.Result, error) {
		return nil, nil
	})
	require.NoError(t, c.RegisterAgent("broken", a))
	id := assignNew(t, c, "detect_bugs", nil, "broken")

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"agent returned no result"}, res.Errors)
}

func TestCoordinator_PanicIsContained(t *testing.T) {
	logger := logging.NewTestLogger()
	c := newCoordinator(t, agent.Options{Logger: logger.Logger})

	crasher := startedAgent(t, "crasher", func(context.Context, *agent.Task) (*agent.Result, error) {
		panic("index out of range")
	})
	healthy := startedAgent(t, "healthy", sleepingRun(0, "ok"))
	require.NoError(t, c.RegisterAgent("crasher", crasher))
	require.NoError(t, c.RegisterAgent("healthy", healthy))

	id := assignNew(t, c, "detect_bugs", nil, "crasher")
	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "panic: index out of range")

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskFailed, task.Status)
	logger.AssertLogged(t, zapcore.ErrorLevel, "agent panicked")

	// coordinator keeps working
	other := assignNew(t, c, "detect_bugs", nil, "healthy")
	res, err = c.GetResult(context.Background(), other, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCoordinator_AssignValidation(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	detector := startedAgent(t, "detector", sleepingRun(0, nil), "detect_bugs")
	stopped := agent.NewFuncAgent("stopped", sleepingRun(0, nil))
	require.NoError(t, c.RegisterAgent("detector", detector))
	require.NoError(t, c.RegisterAgent("stopped", stopped))

	id, err := c.CreateTask("detect_bugs", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.AssignTask("missing", "detector"), agent.ErrUnknownTask)
	assert.ErrorIs(t, c.AssignTask(id, "missing"), agent.ErrUnknownAgent)
	assert.ErrorIs(t, c.AssignTask(id, "stopped"), agent.ErrAgentNotRunning)

	fixID, err := c.CreateTask("fix_issues", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.AssignTask(fixID, "detector"), agent.ErrCapabilityMismatch)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskCreated, task.Status, "failed assignment leaves the task untouched")
}

func TestCoordinator_ReassignFails(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	release := make(chan struct{})
	defer close(release)
	blocked := startedAgent(t, "blocked", func(ctx context.Context, _ *agent.Task) (*agent.Result, error) {
		<-release
		return agent.Succeeded(nil), nil
	})
	other := startedAgent(t, "other", sleepingRun(0, nil))
	require.NoError(t, c.RegisterAgent("blocked", blocked))
	require.NoError(t, c.RegisterAgent("other", other))

	id := assignNew(t, c, "detect_bugs", nil, "blocked")

	err := c.AssignTask(id, "other")
	require.ErrorIs(t, err, agent.ErrInvalidTransition)

	task, _ := c.Task(id)
	assert.Equal(t, "blocked", task.AssignedTo)
}

func TestCoordinator_AssignDoesNotWaitForExecution(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	release := make(chan struct{})
	a := startedAgent(t, "blocked", func(context.Context, *agent.Task) (*agent.Result, error) {
		<-release
		return agent.Succeeded("done"), nil
	})
	require.NoError(t, c.RegisterAgent("blocked", a))

	id, err := c.CreateTask("detect_bugs", nil)
	require.NoError(t, err)

	assigned := make(chan error, 1)
	go func() { assigned <- c.AssignTask(id, "blocked") }()

	select {
	case err := <-assigned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AssignTask blocked on agent execution")
	}

	close(release)
	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Payload)
}

func TestCoordinator_UnregisterLeavesInFlightTasks(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	release := make(chan struct{})
	a := startedAgent(t, "fixer", func(context.Context, *agent.Task) (*agent.Result, error) {
		<-release
		return agent.Succeeded("fixed"), nil
	})
	require.NoError(t, c.RegisterAgent("fixer", a))
	id := assignNew(t, c, "fix_issues", nil, "fixer")

	require.NoError(t, c.UnregisterAgent("fixer"))
	assert.ErrorIs(t, c.UnregisterAgent("fixer"), agent.ErrUnknownAgent)
	close(release)

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.Payload)
}

func TestCoordinator_ReregisteredNameKeepsFreshStats(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	release := make(chan struct{})
	old := startedAgent(t, "fixer", func(context.Context, *agent.Task) (*agent.Result, error) {
		<-release
		return agent.Succeeded("old"), nil
	})
	require.NoError(t, c.RegisterAgent("fixer", old))
	id := assignNew(t, c, "fix_issues", nil, "fixer")

	require.Eventually(t, func() bool {
		task, _ := c.Task(id)
		return task.Status == agent.TaskRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.UnregisterAgent("fixer"))
	require.NoError(t, c.RegisterAgent("fixer", startedAgent(t, "fixer", noopRun)))
	close(release)

	res, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "old", res.Payload)

	infos := c.Agents()
	require.Len(t, infos, 1)
	assert.Equal(t, 0, infos[0].TasksCompleted)
	assert.Equal(t, 0, infos[0].ActiveTasks)
	assert.Nil(t, infos[0].LastActivity)
}

func TestCoordinator_RegisterNilAgent(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	var err error
	require.NotPanics(t, func() { err = c.RegisterAgent("", nil) })
	assert.ErrorIs(t, err, agent.ErrInvalidAgent)

	var agentErr *agent.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Empty(t, c.Agents())
}

func TestCoordinator_PublishesLifecycleEvents(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	var mu sync.Mutex
	var seen []agent.EventType
	unsubscribe := c.Events().Subscribe(func(ev agent.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	a := startedAgent(t, "detector", sleepingRun(0, "report"))
	require.NoError(t, c.RegisterAgent("detector", a))
	id := assignNew(t, c, "detect_bugs", nil, "detector")
	_, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	// the terminal event follows the waiter wakeup
	require.Eventually(t, func() bool { return count() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.UnregisterAgent("detector"))
	require.Eventually(t, func() bool { return count() == 6 }, time.Second, 5*time.Millisecond)
	unsubscribe()

	assert.Equal(t, []agent.EventType{
		agent.EventAgentRegistered,
		agent.EventTaskCreated,
		agent.EventTaskAssigned,
		agent.EventTaskStarted,
		agent.EventTaskSucceeded,
		agent.EventAgentRemoved,
	}, seen)
}

func TestCoordinator_Health(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	a := startedAgent(t, "detector", sleepingRun(0, nil))
	require.NoError(t, c.RegisterAgent("detector", a))
	id := assignNew(t, c, "detect_bugs", nil, "detector")
	_, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	_, err = c.CreateTask("fix_issues", nil)
	require.NoError(t, err)

	h := c.Health()
	assert.True(t, h.Running)
	assert.Equal(t, 1, h.Agents)
	assert.Equal(t, 1, h.Tasks[agent.TaskSucceeded])
	assert.Equal(t, 1, h.Tasks[agent.TaskCreated])
	assert.GreaterOrEqual(t, h.Events.Published, uint64(5))
}

func TestCoordinator_CancelTask(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	a := startedAgent(t, "slow", sleepingRun(time.Minute, nil))
	require.NoError(t, c.RegisterAgent("slow", a))
	id := assignNew(t, c, "detect_bugs", nil, "slow")

	require.NoError(t, c.CancelTask(id, "user abort"))

	_, err := c.GetResult(context.Background(), id, time.Second)
	assert.ErrorIs(t, err, agent.ErrCancelled)

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskCancelled, task.Status)
}

func TestCoordinator_StopHonoursGracePeriod(t *testing.T) {
	logger := logging.NewTestLogger()
	c := agent.NewCoordinator(agent.Options{StopGrace: 100 * time.Millisecond, Logger: logger.Logger})
	require.NoError(t, c.Start(context.Background()))

	release := make(chan struct{})
	defer close(release)
	stubborn := startedAgent(t, "stubborn", func(context.Context, *agent.Task) (*agent.Result, error) {
		<-release // ignores cancellation
		return agent.Succeeded(nil), nil
	})
	require.NoError(t, c.RegisterAgent("stubborn", stubborn))
	id := assignNew(t, c, "validate_fix", nil, "stubborn")

	start := time.Now()
	require.NoError(t, c.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.IsRunning())

	logger.AssertLogged(t, zapcore.WarnLevel, "stop grace period elapsed")

	task, _ := c.Task(id)
	assert.Equal(t, agent.TaskCancelled, task.Status)
}

func TestCoordinator_StopSignalsCancellation(t *testing.T) {
	c := agent.NewCoordinator(agent.Options{StopGrace: 5 * time.Second})
	require.NoError(t, c.Start(context.Background()))

	a := startedAgent(t, "polite", sleepingRun(time.Minute, nil))
	require.NoError(t, c.RegisterAgent("polite", a))
	id := assignNew(t, c, "detect_bugs", nil, "polite")

	require.Eventually(t, func() bool {
		task, _ := c.Task(id)
		return task.Status == agent.TaskRunning
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	task, _ := c.Task(id)
	assert.True(t, task.IsFinished())
	assert.NotEqual(t, agent.TaskSucceeded, task.Status)
}

func TestCoordinator_MaxConcurrent(t *testing.T) {
	c := newCoordinator(t, agent.Options{MaxConcurrent: 1})

	var active, peak atomic.Int32
	a := startedAgent(t, "serial", func(context.Context, *agent.Task) (*agent.Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return agent.Succeeded(nil), nil
	})
	require.NoError(t, c.RegisterAgent("serial", a))

	ids := make([]string, 4)
	for i := range ids {
		ids[i] = assignNew(t, c, "detect_bugs", nil, "serial")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.GetResult(context.Background(), id, 5*time.Second)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestCoordinator_AgentStats(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	calls := 0
	a := startedAgent(t, "flaky", func(context.Context, *agent.Task) (*agent.Result, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("flake")
		}
		return agent.Succeeded(nil), nil
	})
	require.NoError(t, c.RegisterAgent("flaky", a))

	for i := 0; i < 2; i++ {
		id := assignNew(t, c, "detect_bugs", nil, "flaky")
		_, err := c.GetResult(context.Background(), id, time.Second)
		require.NoError(t, err)
	}

	infos := c.Agents()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].TasksCompleted)
	assert.Equal(t, 1, infos[0].TasksFailed)
	assert.Equal(t, 0, infos[0].ActiveTasks)
	assert.NotNil(t, infos[0].LastActivity)
}

func TestCoordinator_Submit(t *testing.T) {
	c := newCoordinator(t, agent.DefaultOptions())

	_, _, err := c.Submit(context.Background(), "detect_bugs", nil, time.Second)
	require.ErrorIs(t, err, agent.ErrUnknownAgent)

	a := startedAgent(t, "detector", sleepingRun(0, "report"), "detect_bugs")
	require.NoError(t, c.RegisterAgent("detector", a))

	id, res, err := c.Submit(context.Background(), "detect_bugs", nil, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "report", res.Payload)
}

func TestCoordinator_WatchdogExpiresOverdueTasks(t *testing.T) {
	c := newCoordinator(t, agent.Options{
		TaskDeadline:     50 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
	})

	id, err := c.CreateTask("detect_bugs", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := c.Task(id)
		return task.Status == agent.TaskTimedOut
	}, 2*time.Second, 10*time.Millisecond)
}

type countingRecorder struct {
	mu       sync.Mutex
	statuses []agent.TaskStatus
}

func (r *countingRecorder) RecordTask(_ context.Context, task agent.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, task.Status)
	return nil
}

func TestCoordinator_RecordsTerminalTasks(t *testing.T) {
	rec := &countingRecorder{}
	c := newCoordinator(t, agent.Options{Recorder: rec})

	a := startedAgent(t, "detector", sleepingRun(0, nil))
	require.NoError(t, c.RegisterAgent("detector", a))
	id := assignNew(t, c, "detect_bugs", nil, "detector")
	_, err := c.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.statuses) == 1 && rec.statuses[0] == agent.TaskSucceeded
	}, time.Second, 5*time.Millisecond)
}
