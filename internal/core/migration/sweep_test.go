package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	for _, o := range []domain.Orphan{
		{ContainerID: "a-id", Name: "orders-2"},
		{ContainerID: "b-id", Name: "orders-3"},
		{ContainerID: "c-id", Name: "orders-4"},
	} {
		require.NoError(t, h.journal.AddOrphan(ctx, o))
	}
	h.router.refs = map[string]bool{"orders-2": true}
	h.router.refsErr = map[string]error{"orders-4": domain.ConfigIOError("read routes", errors.New("permission denied"))}

	report, err := h.orch.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a-id"}, report.Adopted)
	assert.Equal(t, []string{"b-id"}, report.Removed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "c-id")

	calls := h.log.list()
	assert.Contains(t, calls, "runtime.stop b-id")
	assert.Contains(t, calls, "runtime.remove b-id")
	assert.NotContains(t, calls, "runtime.stop a-id")

	left, _ := h.journal.Orphans(ctx)
	require.Len(t, left, 1)
	assert.Equal(t, "c-id", left[0].ContainerID)
}

func TestSweep_StoppedOrphan(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	require.NoError(t, h.journal.AddOrphan(ctx, domain.Orphan{ContainerID: "gone", Name: "orders-9"}))
	h.runtime.stopErr = domain.RuntimeError("stop gone", domain.ErrNotFound)

	report, err := h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, report.Removed)
}

func TestSweep_NoJournal(t *testing.T) {
	log := &callLog{}
	orch := New(newFakeRuntime(log), &fakeRouter{log: log}, &fakeReloader{log: log})

	report, err := orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
	assert.Empty(t, log.list())
}
