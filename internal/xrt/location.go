package xrt

import (
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/spacecal/internal/transform"
)

// LocationFlags carries the independent validity and tracked bits for a
// located pose.
type LocationFlags uint32

const (
	PositionValid LocationFlags = 1 << iota
	PositionTracked
	OrientationValid
	OrientationTracked

	// LocationAll is the full set required for a usable pose.
	LocationAll = PositionValid | PositionTracked | OrientationValid | OrientationTracked
)

// Has reports whether all bits of want are set.
func (f LocationFlags) Has(want LocationFlags) bool {
	return f&want == want
}

// VelocityFlags carries the validity bits for a velocity sample.
type VelocityFlags uint32

const (
	LinearValid VelocityFlags = 1 << iota
	AngularValid
)

// Has reports whether all bits of want are set.
func (f VelocityFlags) Has(want VelocityFlags) bool {
	return f&want == want
}

// Quaternion is a wire-format orientation (x, y, z, w).
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a raw position + orientation sample.
type Pose struct {
	Position    transform.Vec3 `json:"position"`
	Orientation Quaternion     `json:"orientation"`
}

// Transform converts the pose to a rigid transform.
func (p Pose) Transform() transform.Transform {
	q := quat.Number{Real: p.Orientation.W, Imag: p.Orientation.X, Jmag: p.Orientation.Y, Kmag: p.Orientation.Z}
	return transform.Transform{
		Basis:  transform.MatFromQuat(q),
		Origin: p.Position,
	}
}

// PoseFromTransform converts a rigid transform back to wire format.
func PoseFromTransform(t transform.Transform) Pose {
	q := transform.QuatFromMat(t.Basis)
	return Pose{
		Position:    t.Origin,
		Orientation: Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
	}
}

// SpaceLocation is a located pose plus its validity flags.
type SpaceLocation struct {
	Flags LocationFlags
	Pose  Pose
}

// Transform returns the located pose as a rigid transform, or
// ErrNotTracked unless position and orientation are simultaneously
// valid and tracked.
func (l SpaceLocation) Transform() (transform.Transform, error) {
	if !l.Flags.Has(LocationAll) {
		return transform.Transform{}, ErrNotTracked
	}
	return l.Pose.Transform(), nil
}

// SpaceVelocity is a velocity sample plus its validity flags.
type SpaceVelocity struct {
	Flags   VelocityFlags
	Linear  transform.Vec3
	Angular transform.Vec3
}

// EffectiveLinear returns the linear velocity, or a zero vector when the
// sample is invalid. Invalid velocity is deliberately indistinguishable
// from stationary: gating callers must not treat the two differently.
func (v SpaceVelocity) EffectiveLinear() transform.Vec3 {
	if !v.Flags.Has(LinearValid) {
		return transform.Vec3{}
	}
	return v.Linear
}

// EffectiveAngular returns the angular velocity, or a zero vector when
// the sample is invalid.
func (v SpaceVelocity) EffectiveAngular() transform.Vec3 {
	if !v.Flags.Has(AngularValid) {
		return transform.Vec3{}
	}
	return v.Angular
}
