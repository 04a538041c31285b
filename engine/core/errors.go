package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrConfiguration marks an under-provisioned fixed-size resource or invalid setup.
	ErrConfiguration = errors.New("configuration error")
	// ErrDeviceFatal marks a device loss or a failed fence wait, submit or present.
	ErrDeviceFatal = errors.New("device fatal error")

	ErrSwapchainOutOfDate  = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal = errors.New("swapchain suboptimal")
	ErrNotInitialized      = errors.New("renderer not initialized")
	ErrStaleHandle         = errors.New("stale or foreign resource handle")
)

// ConfigurationErrorf builds an error of the configuration class.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

// DeviceFatal wraps err with the name of the API call it came from, logs it
// and marks it as device fatal. Errors already marked are returned as is so
// the innermost call name is kept.
func DeviceFatal(call string, err error) error {
	if err == nil {
		err = errors.New("unknown failure")
	}
	if errors.Is(err, ErrDeviceFatal) {
		return err
	}
	wrapped := errors.Mark(errors.Wrapf(err, "%s", call), ErrDeviceFatal)
	LogError("%s failed: %v", call, err)
	return wrapped
}

// IsFatal reports whether err belongs to one of the unrecoverable classes.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrDeviceFatal)
}

// IsTransient reports whether err is a swapchain staleness signal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate) || errors.Is(err, ErrSwapchainSuboptimal)
}
