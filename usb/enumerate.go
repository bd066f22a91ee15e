//go:build linux

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Descriptor identifies one attached candidate device at the sysfs/devfs
// level. Serial is the device's iSerialNumber string descriptor, which for
// every model in range is its 40-hex-digit UDID — this is how a UUID is
// matched without first opening a lockdown connection (spec §4.6).
type Descriptor struct {
	Bus       int
	Address   int
	VendorID  int
	ProductID int
	Serial    string
}

// Enumerate scans /sys/bus/usb/devices for nodes whose idVendor/idProduct
// fall in the documented Apple mobile device range (spec §4.1, §6). It
// does not open or claim anything; callers open the specific (bus,
// address) they want with OpenLinuxBackend.
func Enumerate() ([]Descriptor, error) {
	const sysfsRoot = "/sys/bus/usb/devices"
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("usb: read %s: %w", sysfsRoot, err)
	}
	var found []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		// device directories look like "1-2" or "1-2.3" (bus-port[.port...]);
		// skip interface nodes like "1-2:1.0".
		if strings.Contains(name, ":") {
			continue
		}
		dir := filepath.Join(sysfsRoot, name)
		vendor, err := readHex(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}
		product, err := readHex(filepath.Join(dir, "idProduct"))
		if err != nil {
			continue
		}
		if vendor != VendorApple || product < ProductMin || product > ProductMax {
			continue
		}
		bus, addr, err := readBusAddress(dir)
		if err != nil {
			continue
		}
		serial, _ := readString(filepath.Join(dir, "serial"))
		found = append(found, Descriptor{Bus: bus, Address: addr, VendorID: vendor, ProductID: product, Serial: serial})
	}
	return found, nil
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readHex(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 16, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func readDecimal(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return v, nil
}

func readBusAddress(dir string) (bus, address int, err error) {
	bus, err = readDecimal(filepath.Join(dir, "busnum"))
	if err != nil {
		return 0, 0, err
	}
	address, err = readDecimal(filepath.Join(dir, "devnum"))
	if err != nil {
		return 0, 0, err
	}
	return bus, address, nil
}
