package calib

import (
	"fmt"
	"math"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// Floor levels the stage floor using hand tracking: hold both palms on
// the physical floor and the stage offset is lowered until they sit at
// or above zero. The correction is strictly one-directional; the floor
// is never raised.
type Floor struct {
	hands []xrt.HandTracker
	sink  StatusSink
}

// NewFloor creates a floor calibrator. It fails when the runtime offers
// no hand tracking at all; a single missing hand is tolerated.
func NewFloor(sys xrt.System, sink StatusSink) (*Floor, error) {
	if sink == nil {
		sink = NopSink{}
	}
	var hands []xrt.HandTracker
	for _, h := range []xrt.Hand{xrt.HandLeft, xrt.HandRight} {
		tracker, err := sys.HandTracker(h)
		if err != nil {
			monitoring.Logf("Unable to create %s hand tracker: %v", h, err)
			continue
		}
		hands = append(hands, tracker)
	}
	if len(hands) == 0 {
		return nil, fmt.Errorf("hand tracking not available")
	}
	return &Floor{hands: hands, sink: sink}, nil
}

// Init announces the mode.
func (f *Floor) Init(*Data) (StepResult, error) {
	f.sink.SetMode("floor", "Place your hands on the floor.")
	return Continue(), nil
}

// Step samples both palms and lowers the stage offset if the lowest
// tracked palm sits below the current floor plane.
func (f *Floor) Step(data *Data) (StepResult, error) {
	lowestY := math.MaxFloat64
	for _, hand := range f.hands {
		loc, err := hand.PalmLocation(data.Stage, data.Now)
		if err != nil {
			return End(), fmt.Errorf("locate palm: %w", err)
		}
		if !loc.Flags.Has(xrt.PositionValid | xrt.PositionTracked) {
			continue
		}
		lowY := loc.Pose.Position.Y - loc.Radius
		lowestY = math.Min(lowestY, lowY)
	}

	if lowestY < 100.0 {
		f.sink.SetMode("floor", "Running...")
	} else {
		f.sink.SetMode("floor", "Hands not tracking.")
	}

	if lowestY < 0 {
		stage, err := data.System.ReferenceSpaceOffset(xrt.RefStage)
		if err != nil {
			return End(), fmt.Errorf("read stage offset: %w", err)
		}
		stage.Origin.Y += lowestY
		if err := data.System.SetReferenceSpaceOffset(xrt.RefStage, stage); err != nil {
			return End(), fmt.Errorf("apply stage offset: %w", err)
		}
	}

	return Continue(), nil
}
