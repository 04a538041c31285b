package core

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestErrorClasses(t *testing.T) {
	cfg := ConfigurationErrorf("ring region exhausted: %d bytes", 64)
	if !errors.Is(cfg, ErrConfiguration) {
		t.Errorf("%v should be a configuration error", cfg)
	}
	if !IsFatal(cfg) {
		t.Errorf("configuration errors must be fatal")
	}

	dev := DeviceFatal("vkQueueSubmit", errors.New("VK_ERROR_DEVICE_LOST"))
	if !errors.Is(dev, ErrDeviceFatal) {
		t.Errorf("%v should be a device fatal error", dev)
	}
	if got := dev.Error(); got != "vkQueueSubmit: VK_ERROR_DEVICE_LOST" {
		t.Errorf("Error() = %q, want call name prefix", got)
	}

	if IsFatal(ErrSwapchainOutOfDate) {
		t.Errorf("swapchain staleness must not be fatal")
	}
	if !IsTransient(errors.Wrap(ErrSwapchainSuboptimal, "present")) {
		t.Errorf("wrapped suboptimal should stay transient")
	}
}

func TestSetLogLevel(t *testing.T) {
	if err := SetLogLevel("info"); err != nil {
		t.Fatalf("SetLogLevel(info) failed: %v", err)
	}
	if err := SetLogLevel("loud"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("SetLogLevel(loud) = %v, want configuration error", err)
	}
	_ = SetLogLevel("debug")
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 60; i++ {
		m.Update(1.0 / 60.0)
	}
	fps, ms := m.Frame()
	if fps < 59 || fps > 61 {
		t.Errorf("FPS = %v, want about 60", fps)
	}
	if ms < 16.6 || ms > 16.7 {
		t.Errorf("FrameTime = %v, want about 16.67", ms)
	}
	if m.TotalFrames() != 60 {
		t.Errorf("TotalFrames = %d, want 60", m.TotalFrames())
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var got EventContext
	calls := 0
	listener := &struct{}{}
	if !bus.Register(EVENT_CODE_RESIZED, listener, func(code SystemEventCode, sender interface{}, l interface{}, data EventContext) bool {
		calls++
		got = data
		return true
	}) {
		t.Fatal("Register failed")
	}
	if bus.Register(EVENT_CODE_RESIZED, listener, nil) {
		t.Error("duplicate registration should fail")
	}

	var ctx EventContext
	ctx.Data.U32[0] = 800
	ctx.Data.U32[1] = 600
	if !bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Error("Fire should report the event as handled")
	}
	if calls != 1 || got.Data.U32[0] != 800 || got.Data.U32[1] != 600 {
		t.Errorf("listener saw %d calls with %v", calls, got.Data.U32)
	}

	if !bus.Unregister(EVENT_CODE_RESIZED, listener) {
		t.Error("Unregister failed")
	}
	if bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Error("no listener should be left")
	}
}

func TestDeviceFatalKeepsInnermostCall(t *testing.T) {
	inner := DeviceFatal("vkWaitForFences", errors.New("timeout"))
	outer := DeviceFatal("BeginFrame", inner)
	if outer.Error() != "vkWaitForFences: timeout" {
		t.Errorf("Error() = %q, want innermost call name", outer.Error())
	}
}
