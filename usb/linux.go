//go:build linux

package usb

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// usbfs ioctl numbers for the Linux usbdevfs character device, as used by
// the kernel's <linux/usbdevice_fs.h> and mirrored in other_examples'
// kevmo314-go-usb device.go.
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsBulk             = 0xc0185502
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsSetConfiguration = 0x80045505
	usbdevfsResetEp          = 0x80045503
	usbdevfsDisconnect       = 0x00005516
)

type usbdevfsBulkTransfer struct {
	EP      uint32
	Len     uint32
	Timeout uint32
	_       uint32 // padding to keep Data 8-byte aligned on 64-bit
	Data    uintptr
}

type usbdevfsSetConfig struct {
	Configuration int32
	Interface     int32
}

// LinuxBackend talks to /dev/bus/usb/BBB/DDD via usbdevfs ioctls. It
// serializes bulk-in and bulk-out independently behind two mutexes (spec
// §5): a writer only ever holds outMu for the duration of one bulk write,
// a reader only ever holds inMu for one bulk read.
type LinuxBackend struct {
	fd       int
	inEP     byte
	outEP    byte
	inMu     sync.Mutex
	outMu    sync.Mutex
	claimed  bool
}

// OpenLinuxBackend opens the devfs node for (bus, address), sets
// configuration 3, claims interface 1, and returns a ready Backend. It
// does not perform the drain or version handshake; callers do that via
// DrainPendingInput and PerformVersionHandshake once they have a Backend.
func OpenLinuxBackend(bus, address int, inEP, outEP byte) (*LinuxBackend, error) {
	path := fmt.Sprintf("/dev/bus/usb/%03d/%03d", bus, address)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("usb: open %s: %w", path, err)
	}
	b := &LinuxBackend{fd: fd, inEP: inEP, outEP: outEP}

	if err := b.setConfiguration(Configuration); err != nil {
		log.WithError(err).Debug("usb: set_configuration failed, trying kernel-driver detach once")
		if derr := b.detachKernelDriver(Interface); derr != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("usb: set_configuration failed and could not detach kernel driver: %w", err)
		}
		if err := b.setConfiguration(Configuration); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("usb: set_configuration retry failed: %w", err)
		}
	}

	if err := b.claimInterface(Interface); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("usb: claim_interface: %w", err)
	}
	b.claimed = true
	return b, nil
}

func (b *LinuxBackend) setConfiguration(config int) error {
	cfg := int32(config)
	return ioctl(b.fd, usbdevfsSetConfiguration, unsafe.Pointer(&cfg))
}

func (b *LinuxBackend) claimInterface(iface int) error {
	n := int32(iface)
	return ioctl(b.fd, usbdevfsClaimInterface, unsafe.Pointer(&n))
}

func (b *LinuxBackend) releaseInterface(iface int) error {
	n := int32(iface)
	return ioctl(b.fd, usbdevfsReleaseInterface, unsafe.Pointer(&n))
}

// detachKernelDriver is only invoked when setting the configuration fails,
// typically because a kernel
// driver (e.g. apple_mfi_fastcharge, or a stray usb-storage binding) owns
// the interface; spec §4.1 calls for exactly one retry after detaching.
func (b *LinuxBackend) detachKernelDriver(iface int) error {
	n := int32(iface)
	return ioctl(b.fd, usbdevfsDisconnect, unsafe.Pointer(&n))
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *LinuxBackend) BulkWrite(buf []byte, timeout time.Duration) (int, error) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	xfer := usbdevfsBulkTransfer{
		EP:      uint32(b.outEP),
		Len:     uint32(len(buf)),
		Timeout: uint32(timeout.Milliseconds()),
		Data:    uintptr(unsafe.Pointer(&buf[0])),
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), usbdevfsBulk, uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return 0, fmt.Errorf("usb: bulk write: %w", errno)
	}
	return int(n), nil
}

func (b *LinuxBackend) BulkRead(capacity int, timeout time.Duration) ([]byte, error) {
	b.inMu.Lock()
	defer b.inMu.Unlock()
	buf := make([]byte, capacity)
	xfer := usbdevfsBulkTransfer{
		EP:      uint32(b.inEP),
		Len:     uint32(capacity),
		Timeout: uint32(timeout.Milliseconds()),
		Data:    uintptr(unsafe.Pointer(&buf[0])),
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), usbdevfsBulk, uintptr(unsafe.Pointer(&xfer)))
	if errno == unix.ETIMEDOUT {
		return nil, nil
	}
	if errno != 0 {
		return nil, fmt.Errorf("usb: bulk read: %w", errno)
	}
	return buf[:n], nil
}

func (b *LinuxBackend) Close() error {
	if b.claimed {
		_ = b.releaseInterface(Interface)
	}
	return unix.Close(b.fd)
}
