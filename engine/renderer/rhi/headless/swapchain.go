package headless

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type swapchain struct {
	device  *Device
	extent  rhi.Extent
	format  rhi.Format
	images  []rhi.Image
	next    uint32
	retired bool
}

func (s *swapchain) Extent() rhi.Extent { return s.extent }

func (s *swapchain) Format() rhi.Format { return s.format }

func (s *swapchain) Images() []rhi.Image {
	return append([]rhi.Image(nil), s.images...)
}

// status reports OutOfDate once the window no longer matches the images.
// Injected statuses take precedence.
func (s *swapchain) status(injected *[]rhi.Status) rhi.Status {
	if len(*injected) > 0 {
		st := (*injected)[0]
		*injected = (*injected)[1:]
		return st
	}
	if w := s.device.window; w != nil {
		width, height := w.FramebufferSize()
		if width != s.extent.Width || height != s.extent.Height {
			return rhi.StatusOutOfDate
		}
	}
	return rhi.StatusReady
}

func (s *swapchain) Acquire(signal rhi.Semaphore) (uint32, rhi.Status, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return 0, rhi.StatusReady, core.DeviceFatal("AcquireNextImage", ErrDeviceLost)
	}
	if s.retired {
		return 0, rhi.StatusReady, core.DeviceFatal("AcquireNextImage", errors.New("swapchain was retired"))
	}
	st := s.status(&d.acquireStatus)
	if st == rhi.StatusOutOfDate {
		return 0, st, nil
	}
	sem, ok := d.semaphores.Get(signal.Handle)
	if !ok {
		return 0, st, errors.Wrapf(core.ErrStaleHandle, "semaphore %v", signal.Handle)
	}
	if sem.signaled {
		return 0, st, core.DeviceFatal("AcquireNextImage", errors.New("semaphore is already signaled"))
	}
	sem.signaled = true
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, st, nil
}

func (s *swapchain) Present(imageIndex uint32, wait rhi.Semaphore) (rhi.Status, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return rhi.StatusReady, core.DeviceFatal("QueuePresent", ErrDeviceLost)
	}
	if int(imageIndex) >= len(s.images) {
		return rhi.StatusReady, core.DeviceFatal("QueuePresent", errors.Newf("image index %d out of range", imageIndex))
	}
	if _, ok := d.semaphores.Get(wait.Handle); !ok {
		return rhi.StatusReady, errors.Wrapf(core.ErrStaleHandle, "semaphore %v", wait.Handle)
	}
	st := s.status(&d.presentStatus)
	d.presents = append(d.presents, PresentEvent{
		Image:     imageIndex,
		Extent:    s.extent,
		Submitted: d.submitted,
		Status:    st,
	})
	return st, nil
}
