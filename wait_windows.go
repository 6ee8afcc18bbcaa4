//go:build windows

package cio

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procCreateThreadpoolWait            = modkernel32.NewProc("CreateThreadpoolWait")
	procSetThreadpoolWait               = modkernel32.NewProc("SetThreadpoolWait")
	procCloseThreadpoolWait             = modkernel32.NewProc("CloseThreadpoolWait")
	procWaitForThreadpoolWaitCallbacks  = modkernel32.NewProc("WaitForThreadpoolWaitCallbacks")
)

// waitRegistry maps a live PTP_WAIT handle to the Wait it drives, for the
// same reason timerRegistry exists: the callback only gets C-compatible
// arguments back.
var (
	waitRegistryMu sync.Mutex
	waitRegistry   = map[uintptr]*Wait{}
)

var waitCallback = syscall.NewCallback(func(instance, context, wait, result uintptr) uintptr {
	waitRegistryMu.Lock()
	w := waitRegistry[wait]
	waitRegistryMu.Unlock()
	if w == nil {
		return 0
	}
	if result == windows.WAIT_TIMEOUT {
		w.deliver(&WaitError{Kind: WaitErrTimeout})
	} else {
		w.deliver(nil)
	}
	return 0
})

type windowsWaitHandle struct {
	ptpWait uintptr
	target  windows.Handle
}

// RegisterWait arms a thread-pool wait on handle, delivering once handle
// becomes signaled or timeoutMillis elapses (0 means no timeout).
func RegisterWait(handle windows.Handle, timeoutMillis uint32) (*Wait, error) {
	r, _, _ := procCreateThreadpoolWait.Call(waitCallback, 0, 0)
	if r == 0 {
		return nil, wrapWindowsErr(windows.GetLastError())
	}
	w := newWait()
	h := &windowsWaitHandle{ptpWait: r, target: handle}
	w.rearm = h.rearm
	w.cancel = h.cancel

	waitRegistryMu.Lock()
	waitRegistry[r] = w
	waitRegistryMu.Unlock()

	if err := h.rearm(timeoutMillis); err != nil {
		return nil, err
	}
	return w, nil
}

func (h *windowsWaitHandle) rearm(timeoutMillis uint32) error {
	var pft *windows.Filetime
	if timeoutMillis != 0 {
		units := -int64(timeoutMillis) * 10000
		ft := windows.Filetime{LowDateTime: uint32(units), HighDateTime: uint32(units >> 32)}
		pft = &ft
	}
	procSetThreadpoolWait.Call(h.ptpWait, uintptr(h.target), uintptr(unsafe.Pointer(pft)))
	return nil
}

// cancel deregisters the wait and waits for any in-flight callback to
// finish before the PTP_WAIT object is closed — same drop-order discipline
// as IOCPPool.Close and the timer binding.
func (h *windowsWaitHandle) cancel() error {
	procSetThreadpoolWait.Call(h.ptpWait, 0, 0)
	procWaitForThreadpoolWaitCallbacks.Call(h.ptpWait, 1)
	procCloseThreadpoolWait.Call(h.ptpWait)

	waitRegistryMu.Lock()
	delete(waitRegistry, h.ptpWait)
	waitRegistryMu.Unlock()
	return nil
}
