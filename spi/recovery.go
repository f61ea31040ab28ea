package spi

import (
	"errors"

	"github.com/nimblefs/sdfat/errkind"
)

// Retry ladder budgets (spec §4.E): CRC errors get the most retries since
// they are usually line noise, timeouts fewer, and anything else triggers
// the full recovery procedure after only a couple of attempts.
const (
	maxCRCRetries     = 8
	maxTimeoutRetries = 5
	maxUnknownRetries = 2
)

// withRetry runs op, retrying per the ladder: BAD_CRC up to maxCRCRetries
// times, TIMEOUT up to maxTimeoutRetries times, anything else up to
// maxUnknownRetries times before running the recovery procedure (resync,
// step down a speed tier, re-init, resync) and resetting the unknown
// counter. If the speed can't be lowered any further, UNKNOWN is returned.
func (d *Device) withRetry(op func() error) error {
	crcRetries := maxCRCRetries
	timeoutRetries := maxTimeoutRetries
	unknownRetries := maxUnknownRetries

	for {
		err := op()
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, errkind.CRC):
			if crcRetries > 0 {
				crcRetries--
				continue
			}
			return err
		case errors.Is(err, errkind.Timeout):
			if timeoutRetries > 0 {
				timeoutRetries--
				continue
			}
			return err
		default:
			if unknownRetries > 0 {
				unknownRetries--
				continue
			}
			if !d.recover() {
				return errkind.Unknown.Wrap(err)
			}
			unknownRetries = maxUnknownRetries
			continue
		}
	}
}

// recover runs the error-recovery procedure: resync the clock, step the
// speed tier down, re-run init at the new tier, resync again. Returns false
// (propagate UNKNOWN) if the speed is already at its floor or re-init
// fails.
func (d *Device) recover() bool {
	d.logerror("spi:error_recovery")
	d.resync()

	newSpeed, ok := d.speed.StepDown()
	if !ok {
		return false
	}
	d.speed = newSpeed
	if err := d.t.SetSpeed(d.speed); err != nil {
		return false
	}
	d.resync()

	loweredSpeed := d.speed
	wasCRC := d.crcEnabled
	if err := d.Init(wasCRC); err != nil {
		d.logerror("spi:recovery_failed")
		return false
	}
	// Init ends at SpeedHigh; drop back to the lowered tier.
	d.speed = loweredSpeed
	if err := d.t.SetSpeed(d.speed); err != nil {
		return false
	}
	d.resync()

	d.debug("spi:recovery_ok")
	return true
}

// resync deasserts chip select, clocks a byte, then clocks bytes until the
// card returns to the idle 0xFF pattern or the byte budget is exhausted.
func (d *Device) resync() {
	d.t.Select(false)
	d.t.ReadByte()
	d.t.Select(true)
	for i := 0; i < resyncBudget; i++ {
		b, err := d.t.ReadByte()
		if err != nil || b == 0xFF {
			break
		}
	}
	d.t.Select(false)
}
