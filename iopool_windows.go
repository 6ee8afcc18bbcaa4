//go:build windows

package cio

import (
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// IOCPPool owns one I/O completion port and the goroutine that drains it,
// fanning completions out to whichever ReadDriver/WriteDriver issued the
// matching attempt (spec §4.3's "overlapped I/O driver").
type IOCPPool struct {
	port   windows.Handle
	wg     sync.WaitGroup
	closed *signal
}

// overlappedRegistry anchors a *windowsOverlapped from the moment it's
// handed to the kernel until dispatchLoop takes it back off the completion
// port, for the same reason timerRegistry/waitRegistry/workRegistry exist:
// once ReadFile/WriteFile returns, wo is otherwise unreachable from Go and
// the GC is free to collect it while the kernel still holds a pointer to
// its embedded OVERLAPPED. Without this, dispatchLoop's cast back from the
// *OVERLAPPED the kernel returns could land on freed memory.
var (
	overlappedRegistryMu sync.Mutex
	overlappedRegistry   = map[uintptr]*windowsOverlapped{}
)

func registerOverlapped(wo *windowsOverlapped) {
	overlappedRegistryMu.Lock()
	overlappedRegistry[uintptr(unsafe.Pointer(wo))] = wo
	overlappedRegistryMu.Unlock()
}

// takeOverlapped recovers and un-pins the *windowsOverlapped the kernel
// handed back as an *OVERLAPPED, keyed by its address rather than cast
// directly so the lookup also proves the pointer is still the one this
// pool registered (and not, in principle, stale memory reused for
// something else).
func takeOverlapped(ov *windows.Overlapped) *windowsOverlapped {
	key := uintptr(unsafe.Pointer(ov))
	overlappedRegistryMu.Lock()
	wo := overlappedRegistry[key]
	delete(overlappedRegistry, key)
	overlappedRegistryMu.Unlock()
	return wo
}

// NewIOCPPool creates a completion port. concurrency caps how many threads
// the kernel wakes concurrently to service it; 0 defaults to NumCPU's worth
// via the OS's own rule.
func NewIOCPPool(concurrency uint32) (*IOCPPool, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, concurrency)
	if err != nil {
		return nil, wrapWindowsErr(err)
	}
	p := &IOCPPool{port: port, closed: newSignal()}
	p.wg.Add(1)
	go p.dispatchLoop()
	return p, nil
}

func (p *IOCPPool) dispatchLoop() {
	defer p.wg.Done()
	for {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(p.port, &n, &key, &ov, windows.INFINITE)
		if ov == nil {
			return // woken by Close's sentinel packet
		}
		wo := takeOverlapped(ov)
		if wo == nil {
			logrus.Warn("iocp: completion packet for unregistered overlapped, dropping")
			continue
		}
		var cerr error
		if err != nil {
			cerr = wrapWindowsErr(err)
		}
		if wo.comp == nil {
			logrus.WithField("bytes", n).Warn("iocp: completion packet for overlapped with no registered driver")
			continue
		}
		wo.comp.onCompletion(int(n), cerr)
	}
}

// Close posts a sentinel completion packet to unblock dispatchLoop, waits
// for it to exit, then closes the port. Handles registered on this port
// must be closed by the caller only after Close returns — OS registration
// (the port) comes down before any shared state the callbacks referenced is
// freed, never the other way around.
func (p *IOCPPool) Close() error {
	if err := windows.PostQueuedCompletionStatus(p.port, 0, 0, nil); err != nil {
		return wrapWindowsErr(err)
	}
	p.wg.Wait()
	return windows.CloseHandle(p.port)
}

// FileHandle adapts a Windows HANDLE registered on an IOCPPool to the
// portable OverlappedHandle contract. The asyncIo discipline below is
// go-winio's: an IOCP-bound handle can post a completion packet even when
// the syscall reports immediate success (unless
// FILE_SKIP_COMPLETION_PORT_ON_SUCCESS was set on the handle), so every
// attempt is treated as pending and the authoritative result always comes
// back through the port.
type FileHandle struct {
	h    windows.Handle
	pool *IOCPPool

	readComp  overlappedCompletion
	writeComp overlappedCompletion
}

// NewFileHandle associates h with pool's completion port.
func NewFileHandle(pool *IOCPPool, h windows.Handle) (*FileHandle, error) {
	if _, err := windows.CreateIoCompletionPort(h, pool.port, 0, 0); err != nil {
		return nil, wrapWindowsErr(err)
	}
	return &FileHandle{h: h, pool: pool}, nil
}

// RegisterReader builds a ReadDriver bound to h and wires it as the
// completion sink for h's read attempts.
func RegisterReader[T any](h *FileHandle, decoder Decoder[T], capacity, queueDepth int) *ReadDriver[T] {
	d := NewReadDriver[T](h, decoder, capacity, queueDepth)
	h.readComp = d
	return d
}

// RegisterWriter builds a WriteDriver bound to h and wires it as the
// completion sink for h's write attempts.
func RegisterWriter[T any](h *FileHandle, encoder Encoder[T], capacity int) *WriteDriver[T] {
	d := NewWriteDriver[T](h, encoder, capacity)
	h.writeComp = d
	return d
}

func (f *FileHandle) StartRead(cb *CompletionBlock, buf []byte, token uintptr) (int, error) {
	wo := newWindowsOverlapped(cb, f.readComp)
	registerOverlapped(wo)
	var n uint32
	err := windows.ReadFile(f.h, buf, &n, &wo.Overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		takeOverlapped(&wo.Overlapped)
		return 0, wrapWindowsErr(err)
	}
	return 0, ErrIOPending
}

func (f *FileHandle) StartWrite(cb *CompletionBlock, buf []byte, token uintptr) (int, error) {
	wo := newWindowsOverlapped(cb, f.writeComp)
	registerOverlapped(wo)
	var n uint32
	err := windows.WriteFile(f.h, buf, &n, &wo.Overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		takeOverlapped(&wo.Overlapped)
		return 0, wrapWindowsErr(err)
	}
	return 0, ErrIOPending
}

// Close releases the underlying handle. The caller must ensure no read or
// write is in flight (e.g. by having already torn down the IOCPPool, or by
// confirming both drivers are idle) before calling this.
func (f *FileHandle) Close() error {
	return windows.CloseHandle(f.h)
}
