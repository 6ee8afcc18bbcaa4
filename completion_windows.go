//go:build windows

package cio

import "golang.org/x/sys/windows"

// overlappedCompletion is implemented by ReadDriver/WriteDriver so the IOCP
// dispatcher in iopool_windows.go can report a completion without knowing
// the driver's item type.
type overlappedCompletion interface {
	onCompletion(n int, err error)
}

func (d *ReadDriver[T]) onCompletion(n int, err error)  { d.Completion(n, err) }
func (d *WriteDriver[T]) onCompletion(n int, err error) { d.Completion(n, err) }

// windowsOverlapped pairs the real OVERLAPPED the kernel writes into with
// enough identity to route a GetQueuedCompletionStatus result back to the
// driver that issued the attempt. windows.Overlapped must stay the first
// field: overlappedRegistry keys each wrapper by its own address, and the
// dispatcher looks it up by the *OVERLAPPED pointer GetQueuedCompletionStatus
// hands back, which is the same address only while Overlapped comes first.
type windowsOverlapped struct {
	windows.Overlapped
	block *CompletionBlock
	comp  overlappedCompletion
}

func newWindowsOverlapped(block *CompletionBlock, comp overlappedCompletion) *windowsOverlapped {
	wo := &windowsOverlapped{block: block, comp: comp}
	wo.Offset = block.offsetLow
	wo.OffsetHigh = block.offsetHigh
	return wo
}

func wrapWindowsErr(err error) *OverlappedError {
	if errno, ok := err.(windows.Errno); ok {
		return WrapOSError(uint32(errno))
	}
	return WrapCustomIOError(err)
}
