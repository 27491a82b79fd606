// internal/protocol/errors.go
package protocol

import "errors"

// ErrMissingType marks a frame without the mandatory type discriminator.
var ErrMissingType = errors.New("protocol: frame missing type field")
