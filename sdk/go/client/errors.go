package client

import "errors"

// ErrUnknownTransport reports a Config.Transport value the SDK does not
// implement.
var ErrUnknownTransport = errors.New("unknown transport kind")
