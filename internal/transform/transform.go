// Package transform implements the rigid transform algebra used by the
// calibration engine: 3x3 rotation matrices, double precision vectors,
// quaternion conversion and interpolation. Transforms are immutable
// value types; every operation returns a new value.
package transform

import (
	"fmt"
	"math"
)

// Transform is a rigid transform: a proper rotation plus a translation.
// Composition follows "apply the right operand in the left operand's
// frame": (A.Mul(B)).Origin = A.Origin + A.Basis*B.Origin.
type Transform struct {
	Basis  Mat3
	Origin Vec3
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Basis: IdentityMat3()}
}

// Mul composes t with o (o applied first, then t).
func (t Transform) Mul(o Transform) Transform {
	return Transform{
		Basis:  t.Basis.Mul(o.Basis),
		Origin: t.Origin.Add(t.Basis.MulVec(o.Origin)),
	}
}

// Inverse returns the transform mapping back to t's source frame.
func (t Transform) Inverse() Transform {
	tr := t.Basis.Transpose()
	return Transform{
		Basis:  tr,
		Origin: tr.MulVec(t.Origin.Scale(-1)),
	}
}

// Lerp interpolates from t to o by s: linear on the origin, spherical on
// the basis. A degenerate slerp keeps t's basis.
func (t Transform) Lerp(o Transform, s float64) Transform {
	return Transform{
		Basis:  MatFromQuat(SlerpQuat(QuatFromMat(t.Basis), QuatFromMat(o.Basis), s)),
		Origin: t.Origin.Lerp(o.Origin, s),
	}
}

// Direction returns the rotation-only part of t.
func (t Transform) Direction() Transform {
	return Transform{Basis: t.Basis}
}

// String formats the transform as position plus yaw/pitch/roll degrees.
func (t Transform) String() string {
	yaw, pitch, roll := t.Basis.EulerYPR()
	return fmt.Sprintf(
		"(X: %.2f, Y: %.2f, Z: %.2f | Yaw: %.2f, Pitch: %.2f, Roll: %.2f)",
		t.Origin.X, t.Origin.Y, t.Origin.Z,
		yaw*180/math.Pi, pitch*180/math.Pi, roll*180/math.Pi,
	)
}
