// Package calib implements the calibration engine: the Calibrator state
// machine protocol and the calibration strategies (sampled rigid
// registration, continuous offset maintenance, floor leveling, recenter
// and monitoring). One calibrator is active at a time; an external tick
// loop drives it through Step and acts on the returned StepResult.
package calib

import (
	"fmt"
	"time"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// StepKind is the 3-way outcome of a calibrator step.
type StepKind int

const (
	// StepContinue keeps the current calibrator active.
	StepContinue StepKind = iota
	// StepReplace swaps in Next, whose Init is run by the loop.
	StepReplace
	// StepEnd stops calibration work.
	StepEnd
)

// StepResult is returned from Init and Step to drive the outer loop.
type StepResult struct {
	Kind StepKind
	Next Calibrator
}

// Continue keeps the current calibrator running.
func Continue() StepResult { return StepResult{Kind: StepContinue} }

// End terminates calibration work.
func End() StepResult { return StepResult{Kind: StepEnd} }

// Replace hands off to next. State transfer is explicit: next is fully
// constructed by the outgoing calibrator; nothing is shared implicitly.
func Replace(next Calibrator) StepResult {
	return StepResult{Kind: StepReplace, Next: next}
}

// Calibrator is the uniform lifecycle all strategies implement. Init
// runs once (and may already end the run); Step runs once per tick.
type Calibrator interface {
	Init(data *Data) (StepResult, error)
	Step(data *Data) (StepResult, error)
}

// Data aggregates the per-session state every calibrator works against.
// Everything but Now is immutable for the session; the tick loop
// refreshes Now before each Step.
type Data struct {
	System  xrt.System
	Devices []xrt.Device
	Origins []xrt.TrackingOrigin
	Stage   xrt.Space
	Now     xrt.Time
}

// NewData enumerates devices and origins from a connected system.
func NewData(sys xrt.System) (*Data, error) {
	now, err := sys.Now()
	if err != nil {
		return nil, fmt.Errorf("query runtime time: %w", err)
	}
	return &Data{
		System:  sys,
		Devices: sys.Devices(),
		Origins: sys.TrackingOrigins(),
		Stage:   sys.ReferenceSpace(xrt.RefStage),
		Now:     now,
	}, nil
}

// Refresh updates Now from the runtime clock.
func (d *Data) Refresh() error {
	now, err := d.System.Now()
	if err != nil {
		return fmt.Errorf("query runtime time: %w", err)
	}
	d.Now = now
	return nil
}

// FindDevice returns the index of the device with the given serial.
func (d *Data) FindDevice(serial string) (int, bool) {
	for i, dev := range d.Devices {
		if dev.Serial == serial {
			return i, true
		}
	}
	return 0, false
}

// DeviceOrigin returns the tracking origin the given device belongs to.
func (d *Data) DeviceOrigin(device int) (xrt.TrackingOrigin, error) {
	if device < 0 || device >= len(d.Devices) {
		return nil, fmt.Errorf("no such device: %d", device)
	}
	id := d.Devices[device].TrackingOriginID
	for _, o := range d.Origins {
		if o.ID() == id {
			return o, nil
		}
	}
	return nil, fmt.Errorf("no such tracking origin: %d", id)
}

// OffsetKind distinguishes how a saved calibration's src/dst keys and
// offset are interpreted.
type OffsetKind string

const (
	// OffsetTrackingOrigin records a relative offset between two origins;
	// src/dst are origin names.
	OffsetTrackingOrigin OffsetKind = "tracking_origin"
	// OffsetDevice records a device-to-device residual offset; src/dst
	// are device serials.
	OffsetDevice OffsetKind = "device"
)

// SavedCalibration is the persisted result of a successful calibration.
type SavedCalibration struct {
	Profile string
	Kind    OffsetKind
	Src     string
	Dst     string
	Offset  transform.Transform
}

// RunRecord captures one sampled calibration attempt for the run
// history table.
type RunRecord struct {
	RunID          string
	Profile        string
	SrcSerial      string
	DstSerial      string
	Samples        int
	DeltaPairs     int
	ResidualMeters float64
	Accepted       bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Store persists calibrations and run history. A nil Store disables
// persistence; calibrators log a warning instead of failing.
type Store interface {
	SaveCalibration(rec SavedCalibration) error
	LoadCalibration(profile string) (SavedCalibration, error)
	RecordRun(run RunRecord) error
}

// StatusSink receives engine status for display surfaces (progress
// output, the web monitor). Implementations must be cheap; they are
// called from the tick loop.
type StatusSink interface {
	SetMode(mode, message string)
	SetProgress(collected, total int)
	ObserveDeviation(meters float64)
	SetResiduals(points []transform.Vec3)
}

// NopSink discards all status updates.
type NopSink struct{}

func (NopSink) SetMode(string, string)        {}
func (NopSink) SetProgress(int, int)          {}
func (NopSink) ObserveDeviation(float64)      {}
func (NopSink) SetResiduals([]transform.Vec3) {}

var _ StatusSink = NopSink{}
