package transform

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// slerpEpsilon mirrors f32 epsilon: below this the interpolation is
// considered degenerate and the start rotation is kept.
const slerpEpsilon = 1.1920929e-7

// QuatFromMat converts a proper rotation matrix to a unit quaternion.
func QuatFromMat(m Mat3) quat.Number {
	t := m.Trace()
	var q quat.Number
	switch {
	case t > 0:
		s := math.Sqrt(t+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2)) * 2
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2)) * 2
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1)) * 2
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	return NormalizeQuat(q)
}

// MatFromQuat converts a quaternion to a rotation matrix. The quaternion
// is normalized first.
func MatFromQuat(q quat.Number) Mat3 {
	q = NormalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
}

// NormalizeQuat scales q to unit norm. A zero quaternion becomes the
// identity rotation.
func NormalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// SlerpQuat spherically interpolates from a to b by s. When the two
// rotations are (anti)parallel within slerpEpsilon, a is returned
// unchanged.
func SlerpQuat(a, b quat.Number, s float64) quat.Number {
	a = NormalizeQuat(a)
	b = NormalizeQuat(b)

	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 1 {
		dot = 1
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	if sinTheta < slerpEpsilon {
		return a
	}

	wa := math.Sin((1-s)*theta) / sinTheta
	wb := math.Sin(s*theta) / sinTheta
	return NormalizeQuat(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}
