//go:build windows

package device

import (
	"golang.org/x/sys/windows/registry"

	"github.com/xtaci/cio"
)

const (
	serialCommPath = `HARDWARE\DEVICEMAP\SERIALCOMM`
	comArbiterPath = `SYSTEM\CurrentControlSet\Control\COM Name Arbiter\Devices`
)

// RegistryScanner implements Scanner by reading the two registry locations
// Windows uses to track active serial ports (spec §4.9): SERIALCOMM for the
// set of currently active COM names, and the COM Name Arbiter's device map
// for the USB hardware ID each name resolves to.
type RegistryScanner struct{}

func (RegistryScanner) Scan() ([]TrackedPort, error) {
	names, err := activeComNames()
	if err != nil {
		return nil, err
	}
	descByName, err := comArbiterDescriptions()
	if err != nil {
		return nil, err
	}

	ports := make([]TrackedPort, 0, len(names))
	for _, name := range names {
		p := TrackedPort{Name: name}
		if desc, ok := descByName[name]; ok {
			p.Description = desc
			vid, pid, found, err := parseVIDPID(desc)
			if err != nil {
				return nil, err
			}
			if found {
				p.VID, p.PID, p.HasVIDPID = vid, pid, true
			}
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// Lookup resolves a single port name the caller already knows about (e.g.
// from a DeviceEvent payload) to its current TrackedPort, without paying for
// a full Scan. A name not present in the active COM list surfaces
// cio.ScanErrComPortMissingFromRegistry (spec §4.9).
func (RegistryScanner) Lookup(port string) (TrackedPort, error) {
	names, err := activeComNames()
	if err != nil {
		return TrackedPort{}, err
	}
	present := false
	for _, name := range names {
		if name == port {
			present = true
			break
		}
	}
	if !present {
		return TrackedPort{}, &cio.ScanError{Kind: cio.ScanErrComPortMissingFromRegistry, Field: port}
	}

	descByName, err := comArbiterDescriptions()
	if err != nil {
		return TrackedPort{}, err
	}
	p := TrackedPort{Name: port}
	if desc, ok := descByName[port]; ok {
		p.Description = desc
		vid, pid, found, err := parseVIDPID(desc)
		if err != nil {
			return TrackedPort{}, err
		}
		if found {
			p.VID, p.PID, p.HasVIDPID = vid, pid, true
		}
	}
	return p, nil
}

func activeComNames() ([]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, &cio.ScanError{Kind: cio.ScanErrIO, Err: err}
	}
	defer k.Close()

	valueNames, err := k.ReadValueNames(-1)
	if err != nil {
		return nil, &cio.ScanError{Kind: cio.ScanErrIO, Err: err}
	}

	out := make([]string, 0, len(valueNames))
	for _, vn := range valueNames {
		s, typ, err := k.GetStringValue(vn)
		if err != nil {
			continue
		}
		if typ != registry.SZ {
			return nil, &cio.ScanError{Kind: cio.ScanErrUnexpectedRegistryData, Field: vn}
		}
		out = append(out, s)
	}
	return out, nil
}

// comArbiterDescriptions maps a COM name to the device instance path the
// arbiter reserved it for (e.g. "USB\VID_1234&PID_5678\6&abc&0&1"). Absence
// of the key entirely is not fatal: VID/PID/description enrichment is
// best-effort and older Windows builds may not carry this key.
func comArbiterDescriptions() (map[string]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, comArbiterPath, registry.QUERY_VALUE)
	if err != nil {
		return map[string]string{}, nil
	}
	defer k.Close()

	valueNames, err := k.ReadValueNames(-1)
	if err != nil {
		return nil, &cio.ScanError{Kind: cio.ScanErrIO, Err: err}
	}

	out := make(map[string]string, len(valueNames))
	for _, devicePath := range valueNames {
		comName, _, err := k.GetStringValue(devicePath)
		if err != nil {
			continue
		}
		out[comName] = devicePath
	}
	return out, nil
}
