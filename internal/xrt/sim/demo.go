package sim

import (
	"math"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// DemoMisalignment is the ground-truth transform separating the demo
// rig's two tracking origins. A dev-mode calibration should converge to
// its inverse.
var DemoMisalignment = transform.Transform{
	Basis:  transform.EulerZXY(35*math.Pi/180, 0, 0),
	Origin: transform.Vec3{X: 0.8, Y: 0.05, Z: -1.2},
}

// DemoRigOffset is the fixed device-to-device transform of the demo rig
// (tracker strapped to the headset).
var DemoRigOffset = transform.Transform{
	Basis:  transform.EulerZXY(10*math.Pi/180, 0, 0),
	Origin: transform.Vec3{Y: -0.1, Z: 0.05},
}

// NewDemo builds a two-origin runtime for dev mode: an HMD in the
// reference origin and a tracker in a second, misaligned origin, both
// rigidly attached and swept along a figure-eight path. The tracker's
// origin reports poses in its own frame, so the engine has real work to
// do.
func NewDemo() *Runtime {
	rt := New()
	originA := rt.AddOrigin("sim-hmd")
	originB := rt.AddOrigin("sim-lighthouse")

	truth := func(at xrt.Time) transform.Transform {
		t := float64(at) / 1e9
		return transform.Transform{
			Basis: transform.EulerZXY(math.Sin(t*0.9)*1.2, math.Sin(t*1.3)*0.5, math.Sin(t*0.7)*0.4),
			Origin: transform.Vec3{
				X: math.Sin(t) * 0.6,
				Y: 1.6 + math.Sin(t*1.7)*0.1,
				Z: math.Sin(2*t) * 0.3,
			},
		}
	}

	rt.AddDevice("SIM-HMD-001", "Simulated HMD", originA, func(at xrt.Time) (transform.Transform, bool) {
		return truth(at), true
	})
	rt.AddDevice("SIM-TRK-001", "Simulated Tracker", originB, func(at xrt.Time) (transform.Transform, bool) {
		// Pose expressed in origin B's own (misaligned) frame.
		return DemoMisalignment.Inverse().Mul(truth(at).Mul(DemoRigOffset)), true
	})

	rt.SetViewScript(func(at xrt.Time) (transform.Transform, bool) {
		return truth(at), true
	})

	return rt
}
