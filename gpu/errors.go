package gpu

import "github.com/cockroachdb/errors"

var (
	ErrOutOfDate      = errors.New("gpu: swapchain is out of date")
	ErrSuboptimal     = errors.New("gpu: swapchain no longer matches the surface")
	ErrNotReady       = errors.New("gpu: image not ready")
	ErrUnknownHandle  = errors.New("gpu: unknown handle")
	ErrPoolExhausted  = errors.New("gpu: descriptor pool exhausted")
	ErrNotMapped      = errors.New("gpu: buffer is not mapped")
	ErrAlreadyMapped  = errors.New("gpu: buffer is already mapped")
	ErrNotHostVisible = errors.New("gpu: buffer memory is not host visible")
	ErrOutOfRange     = errors.New("gpu: access outside buffer bounds")
)

// IsTransient reports whether err is an image acquisition failure that goes
// away by retrying, possibly after recreating the swapchain.
func IsTransient(err error) bool {
	return errors.IsAny(err, ErrOutOfDate, ErrNotReady)
}
