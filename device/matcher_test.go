package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMatcher_PlugUnplugScenario mirrors spec.md §8 scenario 6: a filter on
// one VID/PID, an initial scan that already has a matching port, a later
// unplug of that port resolving its future, and a differently-IDed plug
// producing no Matcher output.
func TestMatcher_PlugUnplugScenario(t *testing.T) {
	scanner := &fakeScanner{ports: []TrackedPort{
		{Name: "COM4", Description: `USB\VID_2FE3&PID_0001\0`, VID: 0x2FE3, PID: 0x0001, HasVIDPID: true},
	}}
	hub := newHub(8)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)
	matcher := NewMatcher(tracker, []VIDPID{{VID: 0x2FE3, PID: 0x0001}})

	// Initial scan already contains COM4; the dispatcher delivers a
	// synthetic arrival event for it (spec §4.7 "Initial scan").
	hub.deliver(DeviceEvent{Kind: EventArrival})

	dev, err := matcher.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COM4", dev.Port.Name)

	select {
	case <-dev.Unplugged.Done():
		t.Fatal("unplugged future resolved before any unplug was delivered")
	default:
	}

	scanner.ports = nil
	hub.deliver(DeviceEvent{Kind: EventRemoveComplete})

	// The unplug itself produces no Matcher output; drive Next in the
	// background so the unplug can be consumed and the future resolved,
	// then cancel it once the future fires since Next would otherwise
	// block forever waiting for a plug that never comes.
	unplugCtx, cancelUnplug := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		matcher.Next(unplugCtx)
		close(done)
	}()
	require.NoError(t, dev.Unplugged.Wait(context.Background()))
	cancelUnplug()
	<-done

	// A later plug with a non-matching PID produces no Matcher output.
	scanner.ports = append(scanner.ports, TrackedPort{Name: "COM7", VID: 0x2FE3, PID: 0x0002, HasVIDPID: true})
	hub.deliver(DeviceEvent{Kind: EventArrival})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = matcher.Next(ctx)
	assert.Error(t, err, "non-matching plug must not be surfaced by Matcher")
}

func TestMatcher_UnplugForUntrackedPortIsIgnored(t *testing.T) {
	scanner := &fakeScanner{}
	hub := newHub(8)
	tracker, err := NewTracker(hub, scanner)
	require.NoError(t, err)
	matcher := NewMatcher(tracker, []VIDPID{{VID: 0x2FE3, PID: 0x0001}})

	// COM9 carries no VID/PID, so Matcher never records a sender for it
	// even though Tracker reports its arrival; the later unplug must then
	// be logged and ignored rather than surfaced.
	scanner.ports = append(scanner.ports, TrackedPort{Name: "COM9"})
	hub.deliver(DeviceEvent{Kind: EventArrival})
	scanner.ports = nil
	hub.deliver(DeviceEvent{Kind: EventRemoveComplete})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = matcher.Next(ctx)
	assert.Error(t, err, "an untracked unplug must not surface as Matcher output")
}

func TestVIDPID_StringIsUppercaseFourHex(t *testing.T) {
	v := VIDPID{VID: 0x2fe3, PID: 0x0001}
	assert.Equal(t, "2FE3:0001", v.String())
}
