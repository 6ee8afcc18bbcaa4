//go:build windows

package cio

import (
	"sync"
	"syscall"

	"golang.org/x/sys/windows"
)

var (
	procCreateThreadpoolWork           = modkernel32.NewProc("CreateThreadpoolWork")
	procSubmitThreadpoolWork           = modkernel32.NewProc("SubmitThreadpoolWork")
	procCloseThreadpoolWork            = modkernel32.NewProc("CloseThreadpoolWork")
	procWaitForThreadpoolWorkCallbacks = modkernel32.NewProc("WaitForThreadpoolWorkCallbacks")
)

// workRegistry maps a live PTP_WORK handle to the onceCell it should run,
// for the same reason timerRegistry/waitRegistry exist.
var (
	workRegistryMu sync.Mutex
	workRegistry   = map[uintptr]*onceCell{}
)

var workCallback = syscall.NewCallback(func(instance, context, work uintptr) uintptr {
	workRegistryMu.Lock()
	cell := workRegistry[work]
	workRegistryMu.Unlock()
	if cell != nil {
		cell.run()
	}
	return 0
})

// SubmitWorkOnce hands fn to the thread pool, to run exactly once on
// whichever worker picks it up.
func SubmitWorkOnce(fn func()) (*WorkOnce, error) {
	r, _, _ := procCreateThreadpoolWork.Call(workCallback, 0, 0)
	if r == 0 {
		return nil, wrapWindowsErr(windows.GetLastError())
	}
	w := newWorkOnce(fn)

	workRegistryMu.Lock()
	workRegistry[r] = w.cell
	workRegistryMu.Unlock()

	w.cancelOS = func() error {
		procWaitForThreadpoolWorkCallbacks.Call(r, 1)
		procCloseThreadpoolWork.Call(r)
		workRegistryMu.Lock()
		delete(workRegistry, r)
		workRegistryMu.Unlock()
		return nil
	}

	procSubmitThreadpoolWork.Call(r)
	return w, nil
}
