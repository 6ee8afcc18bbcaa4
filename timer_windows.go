//go:build windows

package cio

import (
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32                          = windows.NewLazySystemDLL("kernel32.dll")
	procCreateThreadpoolTimer            = modkernel32.NewProc("CreateThreadpoolTimer")
	procSetThreadpoolTimer               = modkernel32.NewProc("SetThreadpoolTimer")
	procCloseThreadpoolTimer             = modkernel32.NewProc("CloseThreadpoolTimer")
	procWaitForThreadpoolTimerCallbacks  = modkernel32.NewProc("WaitForThreadpoolTimerCallbacks")
)

// timerRegistry maps a live PTP_TIMER handle to the Timer it drives. The
// thread pool invokes our trampoline with only C-compatible arguments, so
// there's no way to close over Go state directly — same problem, same fix,
// as the device notification window procedure in device/hub_windows.go.
var (
	timerRegistryMu sync.Mutex
	timerRegistry   = map[uintptr]*Timer{}
)

var timerCallback = syscall.NewCallback(func(instance, context, timer uintptr) uintptr {
	timerRegistryMu.Lock()
	t := timerRegistry[timer]
	timerRegistryMu.Unlock()
	if t != nil {
		t.deliver(time.Now())
	}
	return 0
})

// windowsTimerHandle is the OS-side binding for one pooled timer.
type windowsTimerHandle struct {
	ptpTimer uintptr
}

func filetimeRelative(d time.Duration) windows.Filetime {
	// Negative 100ns-unit relative due time, the documented convention for
	// SetThreadpoolTimer's pftDueTime when ftDueTime should be relative to
	// now rather than absolute.
	negUnits := -int64(d / 100)
	return windows.Filetime{LowDateTime: uint32(negUnits), HighDateTime: uint32(negUnits >> 32)}
}

// newWindowsTimer creates a thread-pool timer and binds it to t. period is 0
// for a one-shot. window is the coalescing tolerance passed as
// SetThreadpoolTimer's WindowLength: firings due within window of each other
// may be merged by the OS before our callback ever runs, on top of the
// portable layer's own single-slot coalescing.
func newWindowsTimer(t *Timer, due time.Duration, period time.Duration, window time.Duration) (*windowsTimerHandle, error) {
	r, _, _ := procCreateThreadpoolTimer.Call(timerCallback, 0, 0)
	if r == 0 {
		return nil, wrapWindowsErr(windows.GetLastError())
	}
	h := &windowsTimerHandle{ptpTimer: r}

	timerRegistryMu.Lock()
	timerRegistry[r] = t
	timerRegistryMu.Unlock()

	ft := filetimeRelative(due)
	periodMs := uint32(period / time.Millisecond)
	windowMs := uint32(window / time.Millisecond)
	procSetThreadpoolTimer.Call(r, uintptr(unsafe.Pointer(&ft)), uintptr(periodMs), uintptr(windowMs))

	t.cancel = h.cancel
	return h, nil
}

func (h *windowsTimerHandle) cancel() error {
	// A zero due time with nil pftDueTime cancels any pending firing without
	// destroying the timer object, then we wait for any in-flight callback
	// to finish before freeing it — same drop-order discipline as the IOCP
	// teardown: no callback may still be running against Timer state the
	// caller is about to release.
	procSetThreadpoolTimer.Call(h.ptpTimer, 0, 0, 0)
	procWaitForThreadpoolTimerCallbacks.Call(h.ptpTimer, 1)
	procCloseThreadpoolTimer.Call(h.ptpTimer)

	timerRegistryMu.Lock()
	delete(timerRegistry, h.ptpTimer)
	timerRegistryMu.Unlock()
	return nil
}

// NewOneshotTimer arms a timer that fires once after due elapses.
func NewOneshotTimer(due time.Duration) (*Timer, error) {
	t := newTimer(TimerOneshot)
	if _, err := newWindowsTimer(t, due, 0, 0); err != nil {
		return nil, err
	}
	return t, nil
}

// NewPeriodicTimer arms a timer that fires every period, starting after due
// elapses, coalescing firings that land within window of one another.
func NewPeriodicTimer(due, period, window time.Duration) (*Timer, error) {
	t := newTimer(TimerPeriodic)
	if _, err := newWindowsTimer(t, due, period, window); err != nil {
		return nil, err
	}
	return t, nil
}
