package tasks

import (
	"image/color"
	"time"

	"ornament-go/sched"
	"ornament-go/x/mathx"
)

// NewFlasher returns the NeoPixel task. Idle -> Flashing on the
// acceleration signal; each due run steps one chase frame at the configured
// brightness until round(flash_time / flash_speed) frames have shown, then
// the strip goes dark and the task returns to Idle. Signals that arrive
// mid-flash are consumed and ignored, not queued.
//
// While Idle the task is on-demand only; it gives itself the frame-interval
// period for the duration of a flash. The scheduler reads Period on the
// same goroutine the body runs on, so the adjustment is safe.
func NewFlasher(dev *Device) *sched.Task {
	const idle = -1
	frame := idle
	total := 0
	var nextFrame time.Time

	t := &sched.Task{
		Name:    "neopixel_flasher",
		Enabled: true,
		Trigger: &dev.Flash,
	}
	t.Run = func(now time.Time) error {
		if frame == idle {
			// Only the signal can make an idle on-demand task due.
			total = flashFrames(dev.Config.FlashTime, dev.Config.FlashSpeed)
			frame = 0
			t.Period = dev.Config.FlashSpeed
			nextFrame = now
		}
		if now.Before(nextFrame) {
			// Woken by a coalesced signal between frames; nothing to do.
			return nil
		}
		if frame >= total {
			dev.Pixels.Clear()
			frame = idle
			t.Period = 0
			return dev.Pixels.Show()
		}
		if err := showFrame(dev, frame); err != nil {
			return err
		}
		frame++
		nextFrame = now.Add(dev.Config.FlashSpeed)
		return nil
	}
	return t
}

// flashFrames rounds the flash duration to whole frames, at least one.
func flashFrames(flashTime, flashSpeed time.Duration) int {
	if flashSpeed <= 0 {
		return 1
	}
	n := int((flashTime + flashSpeed/2) / flashSpeed)
	if n < 1 {
		n = 1
	}
	return n
}

// showFrame lights a single pixel chasing along the strip.
func showFrame(dev *Device, frame int) error {
	br := uint8(mathx.Clamp(dev.Config.PixelBrightness, 0, 255))
	dev.Pixels.Clear()
	if n := dev.Pixels.Len(); n > 0 {
		dev.Pixels.Set(frame%n, color.RGBA{R: br, G: br, B: br})
	}
	return dev.Pixels.Show()
}
