package gousb

import (
	"errors"
	"strings"

	"github.com/dfuhost/dfu/transport"
)

var (
	errNoDevice        = errors.New("no matching USB device found")
	errAmbiguous       = errors.New("more than one matching USB device found")
	errBadBusAddr      = errors.New("bad USB bus:address string")
	errNoConfiguration = errors.New("no configuration selected")
)

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &transport.Error{Op: op, Kind: transport.ErrorKindIO, Err: err}
}

// classify wraps err as a transport.Error, inferring the kind from
// libusb's error text the same way dfu.wrapErrStatus in egtool tags an
// operation name onto the raw error: there is no typed libusb error
// surface available here, only strings.
func (tr *Transport) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := transport.ErrorKindIO
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no device"), strings.Contains(msg, "disconnected"), strings.Contains(msg, "no such device"):
		kind = transport.ErrorKindDisconnected
	case strings.Contains(msg, "busy"), strings.Contains(msg, "access"):
		kind = transport.ErrorKindDeviceUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		kind = transport.ErrorKindTimeout
	}

	if kind == transport.ErrorKindDisconnected {
		tr.mu.Lock()
		fn := tr.disc
		tr.open = false
		tr.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}

	return &transport.Error{Op: op, Kind: kind, Err: err}
}
