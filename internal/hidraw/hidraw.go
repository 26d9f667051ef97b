// Package hidraw reads input reports from Linux hidraw character devices and
// locates devices by the primary usage declared in their report descriptor.
package hidraw

import "errors"

var ErrClosed = errors.New("hidraw: device closed")
