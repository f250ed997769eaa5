package xrt

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/spacecal/internal/transform"
)

func TestLocationTransformRequiresAllFlags(t *testing.T) {
	pose := Pose{
		Position:    transform.Vec3{X: 1, Y: 2, Z: 3},
		Orientation: Quaternion{W: 1},
	}

	tests := []struct {
		name    string
		flags   LocationFlags
		tracked bool
	}{
		{"none", 0, false},
		{"position only", PositionValid | PositionTracked, false},
		{"orientation only", OrientationValid | OrientationTracked, false},
		{"valid but untracked", PositionValid | OrientationValid, false},
		{"all", LocationAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := SpaceLocation{Flags: tt.flags, Pose: pose}
			tr, err := loc.Transform()
			if tt.tracked {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tr.Origin != pose.Position {
					t.Errorf("origin = %+v, want %+v", tr.Origin, pose.Position)
				}
			} else {
				if !errors.Is(err, ErrNotTracked) {
					t.Fatalf("err = %v, want ErrNotTracked", err)
				}
			}
		})
	}
}

func TestEffectiveVelocityZeroFill(t *testing.T) {
	v := SpaceVelocity{
		Flags:   LinearValid,
		Linear:  transform.Vec3{X: 0.5},
		Angular: transform.Vec3{Z: 2.0},
	}

	if got := v.EffectiveLinear(); got != v.Linear {
		t.Errorf("effective linear = %+v, want %+v", got, v.Linear)
	}
	// Angular flag unset: must read as stationary, not as the raw value.
	if got := v.EffectiveAngular(); got != (transform.Vec3{}) {
		t.Errorf("effective angular = %+v, want zero", got)
	}
}

func TestPoseTransformRoundTrip(t *testing.T) {
	orig := transform.Transform{
		Basis:  transform.EulerZXY(0.7, -0.2, 0.1),
		Origin: transform.Vec3{X: 1, Y: -2, Z: 0.25},
	}
	got := PoseFromTransform(orig).Transform()

	if got.Origin.Sub(orig.Origin).Norm() > 1e-12 {
		t.Errorf("origin = %+v, want %+v", got.Origin, orig.Origin)
	}
	for i := 0; i < 9; i++ {
		if math.Abs(got.Basis[i]-orig.Basis[i]) > 1e-9 {
			t.Errorf("basis[%d] = %v, want %v", i, got.Basis[i], orig.Basis[i])
		}
	}
}
