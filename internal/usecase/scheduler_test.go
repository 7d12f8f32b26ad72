package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/domain"
)

type fakeDriver struct {
	mu      sync.Mutex
	entries map[int64]func(int64)
	started bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{entries: map[int64]func(int64){}}
}

func (d *fakeDriver) Schedule(job domain.Job, run func(int64)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[job.ID] = run
	return nil
}

func (d *fakeDriver) Unschedule(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

func (d *fakeDriver) Start(context.Context) error { d.started = true; return nil }
func (d *fakeDriver) Stop(context.Context) error  { return nil }

func (d *fakeDriver) ids() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, 0, len(d.entries))
	for id := range d.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestSchedulerTracksActiveJobs(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	active := quoteJob()
	activeID, err := h.store.CreateJob(ctx, active)
	require.NoError(t, err)

	idle := quoteJob()
	idle.Name = "idle"
	idle.Active = false
	idleID, err := h.store.CreateJob(ctx, idle)
	require.NoError(t, err)

	driver := newFakeDriver()
	s := NewScheduler(driver, h.store, h.pipeline, nil)
	require.NoError(t, s.Start(ctx))
	assert.True(t, driver.started)
	assert.Equal(t, []int64{activeID}, driver.ids())

	idle.ID = idleID
	idle.Active = true
	require.NoError(t, h.store.UpdateJob(ctx, idle))
	require.NoError(t, s.ReloadJob(ctx, idleID))
	assert.Equal(t, []int64{activeID, idleID}, driver.ids())

	require.NoError(t, h.store.DeleteJob(ctx, activeID))
	require.NoError(t, s.ReloadJob(ctx, activeID))
	assert.Equal(t, []int64{idleID}, driver.ids())
}

func TestSchedulerTriggerRunsPipeline(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	job := quoteJob()
	id, err := h.store.CreateJob(ctx, job)
	require.NoError(t, err)

	driver := newFakeDriver()
	s := NewScheduler(driver, h.store, h.pipeline, nil)
	require.NoError(t, s.Start(ctx))

	driver.mu.Lock()
	run := driver.entries[id]
	driver.mu.Unlock()
	require.NotNil(t, run)
	run(id)

	logs, err := h.store.ListExecutionLogs(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunSuccess, logs[0].Status)
	assert.Len(t, h.notifier.messages, 1)
}
