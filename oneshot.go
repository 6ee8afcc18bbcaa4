package cio

import "context"

// NewOneshot returns a paired sender/receiver one-shot channel (spec §4.5):
// the sender's Set signals the event at most once; the receiver's Wait
// resolves once Set has been called, or ctx is done. This is the exported
// counterpart to the internal "watch" signal (signal.go) other pools use to
// sequence their own follow-on operations — the device tracker (§4.8) hands
// one of these out per tracked port as its "unplugged" future.
func NewOneshot() (*OneshotSender, *OneshotReceiver) {
	s := newSignal()
	return &OneshotSender{sig: s}, &OneshotReceiver{sig: s}
}

// OneshotSender is the write half of a NewOneshot pair.
type OneshotSender struct{ sig *signal }

// Set signals the paired receiver. Safe to call more than once or
// concurrently; only the first call has effect.
func (s *OneshotSender) Set() { s.sig.fire() }

// OneshotReceiver is the read half of a NewOneshot pair.
type OneshotReceiver struct{ sig *signal }

// Wait blocks until Set has been called on the paired sender, or ctx is done.
func (r *OneshotReceiver) Wait(ctx context.Context) error { return r.sig.wait(ctx) }

// Done returns a channel closed once Set has been called.
func (r *OneshotReceiver) Done() <-chan struct{} { return r.sig.done() }
