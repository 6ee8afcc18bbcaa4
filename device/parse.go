package device

import (
	"strconv"
	"strings"

	"github.com/xtaci/cio"
)

// parseVIDPID extracts the vendor/product ID from a device instance path
// such as "USB\VID_1234&PID_5678\6&abc123&0&1". It searches for the VID_/
// PID_ markers instead of assuming a fixed character offset — a fixed
// offset only holds for one specific bus-type prefix length and breaks for
// anything other than "USB\" (spec §9 open question; marker search is the
// Go-native resolution).
//
// A desc with neither marker simply isn't a USB-style instance path (e.g.
// ACPI/PNP devices) and resolves to found=false with no error. A desc that
// does carry a marker but trails off before four hex digits, or whose four
// characters aren't valid hex, is malformed and surfaces
// cio.ScanErrInvalidRegistryData (spec §4.9).
func parseVIDPID(desc string) (vid VendorID, pid ProductID, found bool, err error) {
	v, ok, err := extractHex(desc, "VID_")
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		return 0, 0, false, nil
	}
	p, ok, err := extractHex(desc, "PID_")
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		return 0, 0, false, nil
	}
	return VendorID(v), ProductID(p), true, nil
}

func extractHex(s, marker string) (v uint16, found bool, err error) {
	idx := strings.Index(strings.ToUpper(s), marker)
	if idx < 0 {
		return 0, false, nil
	}
	if idx+len(marker)+4 > len(s) {
		return 0, false, &cio.ScanError{Kind: cio.ScanErrInvalidRegistryData, Field: marker, Data: s[idx:]}
	}
	hex := s[idx+len(marker) : idx+len(marker)+4]
	n, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return 0, false, &cio.ScanError{Kind: cio.ScanErrInvalidRegistryData, Field: marker, Data: hex, Err: err}
	}
	return uint16(n), true, nil
}
