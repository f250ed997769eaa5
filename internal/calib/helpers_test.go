package calib

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// testBaseTime is the fixed wall-clock start used with MockClock.
func testBaseTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

// newDenseFromRows builds the coefficient matrix from rows of the form
// [a, b, c | rhs].
func newDenseFromRows(rows [][4]float64) *mat.Dense {
	a := mat.NewDense(len(rows), 3, nil)
	for i, r := range rows {
		a.SetRow(i, []float64{r[0], r[1], r[2]})
	}
	return a
}

// newVecFromRows extracts the right-hand side from the same rows.
func newVecFromRows(rows [][4]float64) *mat.VecDense {
	b := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		b.SetVec(i, r[3])
	}
	return b
}

// countingOrigin wraps a tracking origin and counts SetOffset calls.
type countingOrigin struct {
	xrt.TrackingOrigin
	sets int
}

func (o *countingOrigin) SetOffset(t transform.Transform) error {
	o.sets++
	return o.TrackingOrigin.SetOffset(t)
}

// wrapOrigins replaces data.Origins with counting wrappers and returns
// them for inspection.
func wrapOrigins(data *Data) []*countingOrigin {
	wrapped := make([]*countingOrigin, len(data.Origins))
	for i, o := range data.Origins {
		wrapped[i] = &countingOrigin{TrackingOrigin: o}
		data.Origins[i] = wrapped[i]
	}
	return wrapped
}
