package calib

import (
	"math"
	"testing"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
	"github.com/banshee-data/spacecal/internal/xrt/sim"
)

func palmAt(y, radius float64) sim.PalmScript {
	return func(xrt.Time) xrt.JointLocation {
		return xrt.JointLocation{
			Flags:  xrt.LocationAll,
			Pose:   xrt.Pose{Position: transform.Vec3{Y: y}, Orientation: xrt.Quaternion{W: 1}},
			Radius: radius,
		}
	}
}

func TestFloorRequiresHandTracking(t *testing.T) {
	rt := sim.New()
	if _, err := NewFloor(rt, nil); err == nil {
		t.Fatal("expected error without hand tracking")
	}
}

func TestFloorLowersStage(t *testing.T) {
	rt := sim.New()
	rt.SetPalmScript(xrt.HandLeft, palmAt(-0.05, 0.01))
	rt.SetPalmScript(xrt.HandRight, palmAt(0.2, 0.01))

	data, err := NewData(rt)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	cal, err := NewFloor(rt, nil)
	if err != nil {
		t.Fatalf("NewFloor: %v", err)
	}
	if _, err := cal.Init(data); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := cal.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}

	stage, err := rt.ReferenceSpaceOffset(xrt.RefStage)
	if err != nil {
		t.Fatalf("ReferenceSpaceOffset: %v", err)
	}
	// Lowest palm bottom sits at -0.05 - 0.01 = -0.06.
	if got := stage.Origin.Y; math.Abs(got+0.06) > 1e-12 {
		t.Errorf("stage Y = %v, want -0.06", got)
	}
}

func TestFloorNeverRaises(t *testing.T) {
	rt := sim.New()
	rt.SetPalmScript(xrt.HandLeft, palmAt(0.5, 0.01))

	data, err := NewData(rt)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	cal, err := NewFloor(rt, nil)
	if err != nil {
		t.Fatalf("NewFloor: %v", err)
	}
	if _, err := cal.Init(data); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := cal.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}

	stage, err := rt.ReferenceSpaceOffset(xrt.RefStage)
	if err != nil {
		t.Fatalf("ReferenceSpaceOffset: %v", err)
	}
	if stage.Origin.Y != 0 {
		t.Errorf("stage Y = %v, want unchanged 0", stage.Origin.Y)
	}
}

func TestFloorIgnoresUntrackedPalm(t *testing.T) {
	rt := sim.New()
	// Untracked palm reporting a bogus low position.
	rt.SetPalmScript(xrt.HandLeft, func(xrt.Time) xrt.JointLocation {
		return xrt.JointLocation{
			Pose:   xrt.Pose{Position: transform.Vec3{Y: -5}, Orientation: xrt.Quaternion{W: 1}},
			Radius: 0.01,
		}
	})
	rt.SetPalmScript(xrt.HandRight, palmAt(-0.02, 0.01))

	data, err := NewData(rt)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	cal, err := NewFloor(rt, nil)
	if err != nil {
		t.Fatalf("NewFloor: %v", err)
	}
	if _, err := cal.Init(data); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := cal.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}

	stage, err := rt.ReferenceSpaceOffset(xrt.RefStage)
	if err != nil {
		t.Fatalf("ReferenceSpaceOffset: %v", err)
	}
	if got := stage.Origin.Y; math.Abs(got+0.03) > 1e-12 {
		t.Errorf("stage Y = %v, want -0.03 from the tracked palm only", got)
	}
}
