package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("0 */5 * * * *", &stubJob{name: "a"}))
	require.NoError(t, registry.Register("@hourly", &stubJob{name: "b"}))

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Job.Name())
	assert.Equal(t, "b", entries[1].Job.Name())

	entries[0].Job = nil
	assert.NotNil(t, registry.Entries()[0].Job)
}

func TestRegistryRejectsBadInput(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register("*/5 * * * *", &stubJob{name: "five-fields"}))
	assert.Error(t, registry.Register("0 0 * * * *", nil))

	require.NoError(t, registry.Register("0 0 * * * *", &stubJob{name: "dup"}))
	assert.Error(t, registry.Register("0 30 * * * *", &stubJob{name: "dup"}))
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("@daily", &stubJob{name: "sweep"}))

	job, ok := registry.Lookup("sweep")
	require.True(t, ok)
	assert.Equal(t, "sweep", job.Name())

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}
