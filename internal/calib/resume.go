package calib

import (
	"fmt"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
)

// ApplySavedOrigin re-applies a tracking-origin-kind calibration once:
// the saved relative offset composed with the source origin's current
// offset becomes the destination origin's offset. A vanished source
// origin degrades to identity with a warning; a vanished destination is
// a configuration error.
func ApplySavedOrigin(data *Data, rec SavedCalibration) error {
	if rec.Kind != OffsetTrackingOrigin {
		return fmt.Errorf("record kind %q is not a tracking-origin calibration", rec.Kind)
	}

	srcTransform := transform.Identity()
	found := false
	for _, o := range data.Origins {
		if o.Name() == rec.Src {
			off, err := o.GetOffset()
			if err != nil {
				return fmt.Errorf("read source origin offset: %w", err)
			}
			srcTransform = off
			found = true
			break
		}
	}
	if !found {
		monitoring.Logf("Source origin %q not found, applying calibration with identity source", rec.Src)
	}

	for _, o := range data.Origins {
		if o.Name() != rec.Dst {
			continue
		}
		if err := o.SetOffset(rec.Offset.Mul(srcTransform)); err != nil {
			return fmt.Errorf("apply offset: %w", err)
		}
		monitoring.Logf("Offset successfully applied to: %s", rec.Dst)
		return nil
	}
	return fmt.Errorf("no such tracking origin: %s", rec.Dst)
}

// ResumeContinuous builds the continuous maintainer for a device-kind
// calibration record.
func ResumeContinuous(data *Data, rec SavedCalibration, cfg ContinuousConfig, clock timeutil.Clock, sink StatusSink) (*Continuous, error) {
	if rec.Kind != OffsetDevice {
		return nil, fmt.Errorf("record kind %q is not a device calibration", rec.Kind)
	}
	srcIdx, ok := data.FindDevice(rec.Src)
	if !ok {
		return nil, fmt.Errorf("no such device: %s", rec.Src)
	}
	dstIdx, ok := data.FindDevice(rec.Dst)
	if !ok {
		return nil, fmt.Errorf("no such device: %s", rec.Dst)
	}
	monitoring.Logf("Starting continuous mode from previous calibration.")
	return NewContinuous(srcIdx, dstIdx, rec.Offset, cfg, clock, sink), nil
}
