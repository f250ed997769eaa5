package transform

import "math"

// Mat3 is a 3x3 rotation matrix stored row-major.
type Mat3 [9]float64

// IdentityMat3 returns the 3x3 identity matrix.
func IdentityMat3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// At returns the element at row i, column j.
func (m Mat3) At(i, j int) float64 {
	return m[i*3+j]
}

// Mul returns the matrix product m * o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = m[i*3]*o[j] + m[i*3+1]*o[3+j] + m[i*3+2]*o[6+j]
		}
	}
	return r
}

// MulVec applies the rotation to v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Transpose returns the transposed matrix. For a proper rotation this is
// also the inverse.
func (m Mat3) Transpose() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Det returns the determinant.
func (m Mat3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Trace returns the sum of the diagonal elements.
func (m Mat3) Trace() float64 {
	return m[0] + m[4] + m[8]
}

// RotationAxis returns the (unnormalized) rotation axis derived from the
// skew-symmetric part of a delta rotation matrix.
func (m Mat3) RotationAxis() Vec3 {
	return Vec3{
		X: m.At(2, 1) - m.At(1, 2),
		Y: m.At(0, 2) - m.At(2, 0),
		Z: m.At(1, 0) - m.At(0, 1),
	}
}

// RotationAngle returns the rotation angle of a delta rotation matrix,
// acos((trace-1)/2) clamped to a valid acos domain.
func (m Mat3) RotationAngle() float64 {
	c := (m.Trace() - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// AxisAngle builds a rotation of angle radians around axis. The axis must
// be unit length.
func AxisAngle(axis Vec3, angle float64) Mat3 {
	c := math.Cos(angle)
	s := math.Sin(angle)
	t := 1 - c
	x, y, z := axis.X, axis.Y, axis.Z
	return Mat3{
		t*x*x + c, t*x*y - s*z, t*x*z + s*y,
		t*x*y + s*z, t*y*y + c, t*y*z - s*x,
		t*x*z - s*y, t*y*z + s*x, t*z*z + c,
	}
}

// RotationY builds a rotation of angle radians around the +Y axis.
func RotationY(angle float64) Mat3 {
	return AxisAngle(UnitY, angle)
}

// EulerYPR decomposes the rotation into yaw (around Y), pitch (around X)
// and roll (around Z) for display purposes, matching the Y*X*Z
// composition order of EulerZXY.
func (m Mat3) EulerYPR() (yaw, pitch, roll float64) {
	// R = Ry(yaw) * Rx(pitch) * Rz(roll)
	sp := -m.At(1, 2)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	if math.Abs(sp) < 0.9999999 {
		yaw = math.Atan2(m.At(0, 2), m.At(2, 2))
		roll = math.Atan2(m.At(1, 0), m.At(1, 1))
	} else {
		// Gimbal lock: roll folded into yaw.
		yaw = math.Atan2(-m.At(2, 0), m.At(0, 0))
		roll = 0
	}
	return yaw, pitch, roll
}

// EulerZXY builds a rotation from yaw, pitch, roll angles (radians),
// composed as Ry(yaw) * Rx(pitch) * Rz(roll).
func EulerZXY(yaw, pitch, roll float64) Mat3 {
	return RotationY(yaw).Mul(AxisAngle(UnitX, pitch)).Mul(AxisAngle(UnitZ, roll))
}
