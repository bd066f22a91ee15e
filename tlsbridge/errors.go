package tlsbridge

import (
	"errors"

	"github.com/hexmux/idevice"
)

// timeoutError satisfies net.Error so crypto/tls's internal deadline
// handling recognizes it as a timeout rather than a fatal I/O error.
type timeoutError struct{}

func (timeoutError) Error() string   { return "tlsbridge: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// mapRecvError translates the core's *idevice.Error taxonomy into
// something crypto/tls can reason about: KindTimeout becomes a net.Error
// timeout, everything else passes through unchanged.
func mapRecvError(err error) error {
	var coreErr *idevice.Error
	if errors.As(err, &coreErr) && coreErr.Kind == idevice.KindTimeout {
		return timeoutError{}
	}
	return err
}
