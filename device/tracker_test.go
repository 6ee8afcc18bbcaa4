package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	ports []TrackedPort
}

func (s *fakeScanner) Scan() ([]TrackedPort, error) {
	out := make([]TrackedPort, len(s.ports))
	copy(out, s.ports)
	return out, nil
}

func TestTracker_ArrivalNotificationResolvesToNewPort(t *testing.T) {
	scanner := &fakeScanner{}
	hub := newHub(4)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)

	scanner.ports = append(scanner.ports, TrackedPort{Name: "COM3", Description: `USB\VID_1234&PID_5678\0`})
	hub.deliver(DeviceEvent{Kind: EventArrival})

	pe, err := tracker.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, pe.Plugged)
	assert.Equal(t, "COM3", pe.Port.Name)
}

func TestTracker_RemovalNotificationResolvesToMissingPort(t *testing.T) {
	scanner := &fakeScanner{ports: []TrackedPort{{Name: "COM5"}}}
	hub := newHub(4)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)

	// Establish COM5 as known via its (synthetic-initial-scan-style)
	// arrival before removing it — Tracker no longer seeds a baseline at
	// construction, so an arrival must be observed first.
	hub.deliver(DeviceEvent{Kind: EventArrival})
	pe, err := tracker.Next(context.Background())
	require.NoError(t, err)
	require.True(t, pe.Plugged)
	require.Equal(t, "COM5", pe.Port.Name)

	scanner.ports = nil
	hub.deliver(DeviceEvent{Kind: EventRemoveComplete})

	pe, err = tracker.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, pe.Plugged)
	assert.Equal(t, "COM5", pe.Port.Name)
}

func TestTracker_NonPlugNotificationsAreSkipped(t *testing.T) {
	scanner := &fakeScanner{}
	hub := newHub(4)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)

	hub.deliver(DeviceEvent{Kind: EventQueryRemove})
	scanner.ports = append(scanner.ports, TrackedPort{Name: "COM7"})
	hub.deliver(DeviceEvent{Kind: EventArrival})

	pe, err := tracker.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COM7", pe.Port.Name)
}

func TestTracker_KnownReflectsCurrentSnapshot(t *testing.T) {
	scanner := &fakeScanner{ports: []TrackedPort{{Name: "COM1"}}}
	hub := newHub(4)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)

	hub.deliver(DeviceEvent{Kind: EventArrival})
	_, err = tracker.Next(context.Background())
	require.NoError(t, err)

	known := tracker.Known()
	require.Len(t, known, 1)
	assert.Equal(t, "COM1", known[0].Name)
}
