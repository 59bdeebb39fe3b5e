package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mushrhyme/rebate/constants"
)

type fakeProbe struct {
	docs  map[string]bool
	calls []string
}

func (p *fakeProbe) HasDocument(_ context.Context, document string, _ bool) (bool, error) {
	p.calls = append(p.calls, document)
	return p.docs[document], nil
}

func TestSweepReclaimsStaleWork(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "pdf_registry.json"), nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base }

	processing := constants.JobStatusProcessing
	for _, name := range []string{"stale-proc", "stale-pend"} {
		_, err := reg.Ensure(name, Record{})
		require.NoError(t, err)
	}
	_, err := reg.Update("stale-proc", Mutation{Status: &processing})
	require.NoError(t, err)

	// Fresh work registered nine minutes later survives a ten minute cutoff.
	reg.now = func() time.Time { return base.Add(9 * time.Minute) }
	_, err = reg.Ensure("fresh", Record{})
	require.NoError(t, err)
	_, err = reg.Update("fresh", Mutation{Status: &processing})
	require.NoError(t, err)

	reg.now = func() time.Time { return base.Add(11 * time.Minute) }
	reclaimed, err := reg.Sweep(context.Background(), 10*time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-pend", "stale-proc"}, reclaimed)

	recs, err := reg.List(Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, ok := recs["fresh"]
	assert.True(t, ok)
}

func TestSweepReclaimsCompletedWithoutStoreData(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "pdf_registry.json"), nil)
	completed := constants.JobStatusCompleted

	for _, name := range []string{"saved", "ghost"} {
		_, err := reg.Ensure(name, Record{})
		require.NoError(t, err)
		_, err = reg.Update(name, Mutation{Status: &completed})
		require.NoError(t, err)
	}

	probe := &fakeProbe{docs: map[string]bool{"saved.pdf": true}}
	reclaimed, err := reg.Sweep(context.Background(), 10*time.Minute, probe)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, reclaimed)
	// Probe is asked about the full PDF filename, not the bare name.
	assert.ElementsMatch(t, []string{"saved.pdf", "ghost.pdf"}, probe.calls)

	_, ok, err := reg.Get("saved")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSweepWithoutProbeKeepsCompleted(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "pdf_registry.json"), nil)
	completed := constants.JobStatusCompleted
	_, err := reg.Ensure("done", Record{})
	require.NoError(t, err)
	_, err = reg.Update("done", Mutation{Status: &completed})
	require.NoError(t, err)

	reclaimed, err := reg.Sweep(context.Background(), time.Minute, nil)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}
