// Package idevice is a host-side library for talking to Apple mobile
// devices over USB. It owns the USB multiplexing transport, the lockdown
// control channel (session negotiation, pairing, in-band TLS upgrade) and
// the plist message framing shared by service clients layered on top of it.
package idevice
