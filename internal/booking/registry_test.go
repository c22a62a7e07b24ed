package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(gw *fakeGateway) *Registry {
	return NewRegistry(Dependencies{
		Gateway:           gw,
		Release:           NewReleaseDispatcher(gw, nil, nil),
		HoldWindowSeconds: 180,
		TickInterval:      testTick,
	})
}

func TestRegistryCreateGetRemove(t *testing.T) {
	r := newTestRegistry(newFakeGateway())

	s := r.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Remove(s.ID)
	_, ok = r.Get(s.ID)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryRemoveResetsSession(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRegistry(gw)

	s := r.Create()
	registerTestPatient(t, s)
	_, _, err := s.SelectClinic(context.Background(), 42, "2026-09-01")
	require.NoError(t, err)
	_, err = s.ReserveSlot(context.Background(), testSlot(), "2026-09-01")
	require.NoError(t, err)

	r.Remove(s.ID)

	assert.Equal(t, StateNoReservation, s.State())
	assert.False(t, s.Hold().Active, "removal must stop the hold countdown")
}

func TestRegistrySweep(t *testing.T) {
	r := newTestRegistry(newFakeGateway())

	old := r.Create()
	old.CreatedAt = time.Now().Add(-5 * time.Hour)
	fresh := r.Create()

	swept := r.Sweep(4 * time.Hour)
	assert.Equal(t, 1, swept)

	_, ok := r.Get(old.ID)
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
}
