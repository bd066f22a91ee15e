package idevice

import "github.com/hexmux/idevice/ideviceerr"

// ErrorKind is the single error taxonomy used across every layer of the
// core, from the USB backend up through the lockdown client. Layers never
// invent their own error types; they pick the closest ErrorKind and wrap
// a cause.
//
// This is a type alias into ideviceerr so that the mux package (which the
// root package depends on) can define and consume the same error type
// without creating an import cycle back through this package.
type ErrorKind = ideviceerr.ErrorKind

const (
	KindUnknown                      = ideviceerr.KindUnknown
	KindInvalidArg                   = ideviceerr.KindInvalidArg
	KindNoDevice                     = ideviceerr.KindNoDevice
	KindNotEnoughData                = ideviceerr.KindNotEnoughData
	KindBadHeader                    = ideviceerr.KindBadHeader
	KindTimeout                      = ideviceerr.KindTimeout
	KindMuxError                     = ideviceerr.KindMuxError
	KindPlistError                   = ideviceerr.KindPlistError
	KindSslError                     = ideviceerr.KindSslError
	KindPairingDialogResponsePending = ideviceerr.KindPairingDialogResponsePending
	KindInvalidPairRecord            = ideviceerr.KindInvalidPairRecord
	KindPasswordProtected            = ideviceerr.KindPasswordProtected
	KindInvalidService               = ideviceerr.KindInvalidService
	KindClosed                       = ideviceerr.KindClosed
)

// Error is the concrete error type returned by every exported operation in
// this module. Kind is always one of the documented ErrorKind values;
// Diagnostic carries an original, unrecognized message (e.g. an unknown
// lockdown `Error` string) verbatim for debugging without it leaking into
// Kind-based error handling.
type Error = ideviceerr.Error

// Err builds a bare sentinel for a Kind, useful with errors.Is.
func Err(kind ErrorKind) *Error {
	return ideviceerr.Err(kind)
}

// Wrap builds an *Error of the given Kind around cause.
func Wrap(kind ErrorKind, cause error) *Error {
	return ideviceerr.Wrap(kind, cause)
}

// WrapDiagnostic builds an *Error of the given Kind carrying a free-form
// diagnostic string, used when mapping an unrecognized lockdown `Error`
// response into KindUnknown without losing the original text.
func WrapDiagnostic(kind ErrorKind, diagnostic string) *Error {
	return ideviceerr.WrapDiagnostic(kind, diagnostic)
}

// LockdownError maps a lockdownd `Error` string to an *Error.
func LockdownError(s string) *Error {
	return ideviceerr.LockdownError(s)
}
