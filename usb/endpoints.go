//go:build linux

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// bulkAttribute is bmAttributes' transfer-type field value for bulk
// endpoints, per the USB 2.0 spec.
const bulkAttribute = 2

// DiscoverEndpoints scans the lockdown interface's sysfs endpoint nodes and
// returns the bulk IN and bulk OUT endpoint addresses. It assumes interface
// 1 has already been selected at altsetting 0, matching how every model in
// the Apple mobile device range exposes its lockdown interface.
func DiscoverEndpoints(bus, address int) (inEP, outEP byte, err error) {
	ifaceDir, err := findInterfaceDir(bus, address, Interface)
	if err != nil {
		return 0, 0, err
	}
	entries, err := os.ReadDir(ifaceDir)
	if err != nil {
		return 0, 0, fmt.Errorf("usb: read %s: %w", ifaceDir, err)
	}
	var foundIn, foundOut bool
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "ep_") {
			continue
		}
		epDir := filepath.Join(ifaceDir, entry.Name())
		attrs, err := readHex(filepath.Join(epDir, "bmAttributes"))
		if err != nil || attrs != bulkAttribute {
			continue
		}
		addr, err := readHex(filepath.Join(epDir, "bEndpointAddress"))
		if err != nil {
			continue
		}
		if addr&0x80 != 0 {
			inEP, foundIn = byte(addr), true
		} else {
			outEP, foundOut = byte(addr), true
		}
	}
	if !foundIn || !foundOut {
		return 0, 0, fmt.Errorf("usb: could not find bulk endpoint pair under %s", ifaceDir)
	}
	return inEP, outEP, nil
}

// findInterfaceDir locates "<bus>-<port...>:1.<iface>" under
// /sys/bus/usb/devices for the device at (bus, address). Interface nodes
// have no busnum/devnum files of their own; those live on the parent
// device directory named by the part of the interface name before ":".
func findInterfaceDir(bus, address, iface int) (string, error) {
	const sysfsRoot = "/sys/bus/usb/devices"
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return "", fmt.Errorf("usb: read %s: %w", sysfsRoot, err)
	}
	suffix := fmt.Sprintf(":1.%d", iface)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		parent := filepath.Join(sysfsRoot, strings.SplitN(name, ":", 2)[0])
		devBus, err := readDecimal(filepath.Join(parent, "busnum"))
		if err != nil || devBus != bus {
			continue
		}
		devAddr, err := readDecimal(filepath.Join(parent, "devnum"))
		if err != nil || devAddr != address {
			continue
		}
		return filepath.Join(sysfsRoot, name), nil
	}
	return "", fmt.Errorf("usb: no interface %d found for bus %d address %d", iface, bus, address)
}
