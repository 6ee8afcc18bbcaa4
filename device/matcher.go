package device

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xtaci/cio"
)

// VIDPID is one vendor/product identifier pair a Matcher filters on (spec
// §4.8/data model). Rendered as uppercase four-hex-digit strings by String,
// matching how the original implementation formats the pair in diagnostics.
type VIDPID struct {
	VID VendorID
	PID ProductID
}

func (v VIDPID) String() string {
	const hex = "0123456789ABCDEF"
	fmt4 := func(n uint16) string {
		b := [4]byte{}
		for i := 3; i >= 0; i-- {
			b[i] = hex[n&0xF]
			n >>= 4
		}
		return string(b[:])
	}
	return fmt4(uint16(v.VID)) + ":" + fmt4(uint16(v.PID))
}

// TrackedDevice is emitted by Matcher for each plug of a port whose VID/PID
// matches one of its configured filters (spec §4.8). Unplugged resolves
// exactly once, the next time that same port is reported unplugged.
type TrackedDevice struct {
	Port      TrackedPort
	Unplugged *cio.OneshotReceiver
}

// Matcher consumes a Tracker's unfiltered PlugEvent stream and narrows it to
// devices matching a configured VID/PID allowlist, pairing each match with a
// one-shot "unplugged" future (spec §4.8's "Plug-event matcher & tracker").
// It holds the in-memory port-name -> unplug-sender map the spec describes;
// Tracker itself only does the arrival/removal diffing against the
// registry, which Matcher does not duplicate.
type Matcher struct {
	src     *Tracker
	filters []VIDPID

	mu      sync.Mutex
	senders map[string]*cio.OneshotSender
}

// NewMatcher wraps src, only surfacing plugs whose VID/PID appears in
// filters. An empty filter list matches nothing, mirroring the spec's
// "filtering by vendor/product identifiers" framing rather than defaulting
// to pass-everything.
func NewMatcher(src *Tracker, filters []VIDPID) *Matcher {
	cp := make([]VIDPID, len(filters))
	copy(cp, filters)
	return &Matcher{src: src, filters: cp, senders: map[string]*cio.OneshotSender{}}
}

func (m *Matcher) matches(p TrackedPort) bool {
	if !p.HasVIDPID {
		return false
	}
	for _, f := range m.filters {
		if f.VID == p.VID && f.PID == p.PID {
			return true
		}
	}
	return false
}

// Next blocks until the next filter-matching plug can be reported. Unplugs
// are consumed internally to resolve the matching TrackedDevice.Unplugged
// future and never themselves produce a Next result; an unplug for a port
// Matcher never tracked (filtered out, or plugged before this Matcher
// existed) is logged and otherwise ignored, per spec §4.8.
func (m *Matcher) Next(ctx context.Context) (TrackedDevice, error) {
	for {
		pe, err := m.src.Next(ctx)
		if err != nil {
			return TrackedDevice{}, err
		}
		if pe.Plugged {
			if !m.matches(pe.Port) {
				continue
			}
			sender, receiver := cio.NewOneshot()
			m.mu.Lock()
			m.senders[pe.Port.Name] = sender
			m.mu.Unlock()
			return TrackedDevice{Port: pe.Port, Unplugged: receiver}, nil
		}

		m.mu.Lock()
		sender, ok := m.senders[pe.Port.Name]
		if ok {
			delete(m.senders, pe.Port.Name)
		}
		m.mu.Unlock()
		if !ok {
			logrus.WithField("port", pe.Port.Name).Warn("device: unplug for untracked port ignored")
			continue
		}
		sender.Set()
	}
}
