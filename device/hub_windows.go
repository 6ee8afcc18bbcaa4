//go:build windows

package device

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/xtaci/cio"
)

var (
	moduser32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterClassExW            = moduser32.NewProc("RegisterClassExW")
	procUnregisterClassW            = moduser32.NewProc("UnregisterClassW")
	procCreateWindowExW             = moduser32.NewProc("CreateWindowExW")
	procDestroyWindow               = moduser32.NewProc("DestroyWindow")
	procDefWindowProcW              = moduser32.NewProc("DefWindowProcW")
	procGetMessageW                 = moduser32.NewProc("GetMessageW")
	procTranslateMessage            = moduser32.NewProc("TranslateMessage")
	procDispatchMessageW            = moduser32.NewProc("DispatchMessageW")
	procPostMessageW                = moduser32.NewProc("PostMessageW")
	procRegisterDeviceNotificationW = moduser32.NewProc("RegisterDeviceNotificationW")
	procUnregisterDeviceNotification = moduser32.NewProc("UnregisterDeviceNotification")
)

const (
	wmDeviceChange = 0x0219
	wmClose        = 0x0010
	wmDestroy      = 0x0002
	wmUserQuit     = 0x0400 + 1 // WM_USER+1, used as our own "please exit" message

	dbtDeviceArrival          = 0x8000
	dbtDeviceQueryRemove      = 0x8001
	dbtDeviceQueryRemoveFailed = 0x8002
	dbtDeviceRemovePending    = 0x8003
	dbtDeviceRemoveComplete   = 0x8004
	dbtCustomEvent            = 0x8006

	dbtDevTypDeviceInterface = 5

	deviceNotifyWindowHandle       = 0x00000000
	deviceNotifyAllInterfaceClasses = 0x00000004
)

// hwndMessage is HWND_MESSAGE: creating a window with this as its parent
// makes it message-only, with no UI surface and no taskbar presence.
var hwndMessage = ^uintptr(2)

type wndClassExW struct {
	size       uint32
	style      uint32
	wndProc    uintptr
	clsExtra   int32
	wndExtra   int32
	instance   windows.Handle
	icon       windows.Handle
	cursor     windows.Handle
	background windows.Handle
	menuName   *uint16
	className  *uint16
	iconSm     windows.Handle
}

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

type devBroadcastHdr struct {
	size       uint32
	deviceType uint32
	reserved   uint32
}

type devBroadcastDeviceInterface struct {
	size       uint32
	deviceType uint32
	reserved   uint32
	classGUID  windows.GUID
	name       [1]uint16
}

// hubRegistry maps a live message-only window handle to the Hub it feeds,
// for the same reason the thread-pool trampolines in the parent package
// keep a registry: the window procedure only receives C-compatible
// arguments.
var (
	hubRegistryMu sync.Mutex
	hubRegistry   = map[uintptr]*windowsHub{}
)

type windowsHub struct {
	hub        *Hub
	classGUIDs []windows.GUID
}

var wndProc = syscall.NewCallback(func(hwnd uintptr, message uint32, wParam, lParam uintptr) uintptr {
	switch message {
	case wmDeviceChange:
		hubRegistryMu.Lock()
		wh := hubRegistry[hwnd]
		hubRegistryMu.Unlock()
		if wh != nil {
			wh.handle(uint32(wParam), lParam)
		}
		return 1
	case wmUserQuit, wmClose:
		procDestroyWindow.Call(hwnd)
		return 0
	case wmDestroy:
		return 0
	}
	r, _, _ := procDefWindowProcW.Call(hwnd, uintptr(message), wParam, lParam)
	return r
})

func (wh *windowsHub) handle(code uint32, lParam uintptr) {
	switch code {
	case dbtDeviceArrival, dbtDeviceRemoveComplete:
		hdr := (*devBroadcastHdr)(unsafe.Pointer(lParam))
		if hdr.deviceType != dbtDevTypDeviceInterface {
			return
		}
		iface := (*devBroadcastDeviceInterface)(unsafe.Pointer(lParam))
		if len(wh.classGUIDs) > 0 && !guidIn(iface.classGUID, wh.classGUIDs) {
			return
		}
		kind := EventArrival
		if code == dbtDeviceRemoveComplete {
			kind = EventRemoveComplete
		}
		wh.hub.deliver(DeviceEvent{Kind: kind})
	case dbtDeviceQueryRemove:
		wh.hub.deliver(DeviceEvent{Kind: EventQueryRemove})
	case dbtDeviceQueryRemoveFailed:
		wh.hub.deliver(DeviceEvent{Kind: EventQueryRemoveFailed})
	case dbtDeviceRemovePending:
		wh.hub.deliver(DeviceEvent{Kind: EventRemovePending})
	case dbtCustomEvent:
		hdr := (*devBroadcastHdr)(unsafe.Pointer(lParam))
		if hdr.deviceType != dbtDevTypDeviceInterface {
			wh.hub.deliver(DeviceEvent{Kind: EventCustom})
			return
		}
		iface := (*devBroadcastDeviceInterface)(unsafe.Pointer(lParam))
		wh.hub.deliver(DeviceEvent{Kind: EventCustom, CustomEventGUID: guidString(iface.classGUID)})
	}
}

func guidIn(g windows.GUID, list []windows.GUID) bool {
	for _, c := range list {
		if c == g {
			return true
		}
	}
	return false
}

func guidString(g windows.GUID) string {
	return g.String()
}

const wndClassName = "cio-device-notify-wndclass"

var registerClassOnce sync.Once

func registerWindowClass() error {
	var err error
	registerClassOnce.Do(func() {
		name, e := windows.UTF16PtrFromString(wndClassName)
		if e != nil {
			err = e
			return
		}
		wc := wndClassExW{
			wndProc:   wndProc,
			className: name,
		}
		wc.size = uint32(unsafe.Sizeof(wc))
		r, _, e := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))
		if r == 0 {
			err = e
		}
	})
	return err
}

// NewHub creates a hidden message-only window, registers it for device
// notifications, and starts the message loop goroutine that feeds the
// returned Hub (spec §4.7). An empty classGUIDs requests all interface
// classes. Otherwise only classGUIDs[0] is registered with the OS;
// arrivals and removals are then filtered against the whole list, so
// notifications for the other classes in it are not received.
func NewHub(capacity int, classGUIDs []windows.GUID) (*Hub, error) {
	if err := registerWindowClass(); err != nil {
		return nil, &cio.TrackingError{Kind: cio.TrackingErrIO, Err: err}
	}
	className, err := windows.UTF16PtrFromString(wndClassName)
	if err != nil {
		return nil, &cio.TrackingError{Kind: cio.TrackingErrIO, Err: err}
	}
	windowName, err := windows.UTF16PtrFromString(wndClassName + "-window")
	if err != nil {
		return nil, &cio.TrackingError{Kind: cio.TrackingErrIO, Err: err}
	}

	hwnd, _, callErr := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		uintptr(unsafe.Pointer(windowName)),
		0, 0, 0, 0, 0,
		hwndMessage,
		0, 0, 0,
	)
	if hwnd == 0 {
		logrus.WithError(callErr).Error("device: failed to create message-only notification window")
		return nil, &cio.TrackingError{Kind: cio.TrackingErrIO, Err: callErr}
	}

	hub := newHub(capacity)
	wh := &windowsHub{hub: hub, classGUIDs: classGUIDs}

	hubRegistryMu.Lock()
	hubRegistry[hwnd] = wh
	hubRegistryMu.Unlock()

	seedInitialArrivals(hub)

	flags := uintptr(deviceNotifyWindowHandle)
	var filter unsafe.Pointer
	var iface devBroadcastDeviceInterface
	if len(classGUIDs) == 0 {
		flags |= deviceNotifyAllInterfaceClasses
	} else {
		iface.deviceType = dbtDevTypDeviceInterface
		iface.size = uint32(unsafe.Sizeof(iface))
		iface.classGUID = classGUIDs[0]
		filter = unsafe.Pointer(&iface)
	}
	notifyHandle, _, callErr := procRegisterDeviceNotificationW.Call(hwnd, uintptr(filter), flags)
	if notifyHandle == 0 {
		logrus.WithError(callErr).Error("device: RegisterDeviceNotificationW failed")
		procDestroyWindow.Call(hwnd)
		hubRegistryMu.Lock()
		delete(hubRegistry, hwnd)
		hubRegistryMu.Unlock()
		return nil, &cio.TrackingError{Kind: cio.TrackingErrIO, Err: callErr}
	}

	var loopWG sync.WaitGroup
	loopWG.Add(1)
	go func() {
		defer loopWG.Done()
		runMessageLoop(hwnd)
	}()

	hub.stop = func() error {
		procUnregisterDeviceNotification.Call(notifyHandle)
		procPostMessageW.Call(hwnd, wmUserQuit, 0, 0)
		loopWG.Wait()
		hubRegistryMu.Lock()
		delete(hubRegistry, hwnd)
		hubRegistryMu.Unlock()
		// The window and its registration are gone; wake any consumer
		// still blocked in Next with a terminal sentinel rather than
		// leaving it to hang until its own context expires.
		hub.fail(ErrClosed)
		return nil
	}

	return hub, nil
}

// seedInitialArrivals pre-populates hub's queue with synthetic arrival
// events for serial ports already present at construction time, so a
// consumer that only starts pulling from the hub after it's created still
// sees the current world, not just live deltas (spec §4.7 "Initial scan").
func seedInitialArrivals(hub *Hub) {
	ports, err := (RegistryScanner{}).Scan()
	if err != nil {
		logrus.WithError(err).Warn("device: initial registry scan failed, hub starts with no synthetic arrivals")
		return
	}
	for i := range ports {
		port := ports[i]
		hub.deliver(DeviceEvent{Kind: EventArrival, Port: &port})
	}
}

func runMessageLoop(hwnd uintptr) {
	var m msg
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), hwnd, 0, 0)
		if int32(r) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
		if m.message == wmDestroy {
			return
		}
	}
}
