package calib

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
	"github.com/banshee-data/spacecal/internal/xrt/sim"
)

// richMotion is a motion path with enough rotation across all axes for
// the registration fit to lock on.
func richMotion(at xrt.Time) transform.Transform {
	t := float64(at) / 1e9
	return transform.Transform{
		Basis: transform.EulerZXY(math.Sin(t*0.9)*1.2, math.Sin(t*1.3)*0.6, math.Sin(t*0.7)*0.5),
		Origin: transform.Vec3{
			X: math.Sin(t) * 0.6,
			Y: 1.6 + math.Sin(t*1.7)*0.1,
			Z: math.Sin(2*t) * 0.3,
		},
	}
}

// twoOriginRig builds a simulated runtime with one device per origin,
// rigidly attached and separated by the given ground-truth misalignment.
func twoOriginRig(misalignment, rig transform.Transform) *sim.Runtime {
	rt := sim.New()
	originA := rt.AddOrigin("native")
	originB := rt.AddOrigin("lighthouse")
	rt.AddDevice("DEV-A", "Headset", originA, func(at xrt.Time) (transform.Transform, bool) {
		return richMotion(at), true
	})
	rt.AddDevice("DEV-B", "Tracker", originB, func(at xrt.Time) (transform.Transform, bool) {
		return misalignment.Inverse().Mul(richMotion(at).Mul(rig)), true
	})
	return rt
}

// drive advances the simulation and steps the calibrator until it stops
// returning Continue or maxTicks is hit.
func drive(t *testing.T, rt *sim.Runtime, data *Data, cal Calibrator, maxTicks int) StepResult {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		rt.Advance(xrt.Time(100 * 1e6)) // 100ms
		require.NoError(t, data.Refresh())
		res, err := cal.Step(data)
		require.NoError(t, err)
		if res.Kind != StepContinue {
			return res
		}
	}
	return Continue()
}

func TestDeltaAxesFilterRejectsSmallRotations(t *testing.T) {
	big := sample{
		a: transform.Transform{Basis: transform.RotationY(1.0)},
		b: transform.Transform{Basis: transform.RotationY(1.0)},
	}
	small := sample{
		a: transform.Transform{Basis: transform.RotationY(0.1)},
		b: transform.Transform{Basis: transform.RotationY(0.1)},
	}
	ident := sample{a: transform.Identity(), b: transform.Identity()}

	if _, ok := newDeltaAxes(big, ident); !ok {
		t.Error("1.0 rad delta rejected, want accepted")
	}
	if _, ok := newDeltaAxes(small, ident); ok {
		t.Error("0.1 rad delta accepted, want rejected")
	}
	// One informative side is not enough; both must rotate.
	if _, ok := newDeltaAxes(sample{a: big.a, b: small.b}, ident); ok {
		t.Error("mixed delta accepted, want rejected")
	}
}

func TestSampledInitValidation(t *testing.T) {
	rt := twoOriginRig(transform.Identity(), transform.Identity())
	data, err := NewData(rt)
	require.NoError(t, err)

	_, err = NewSampled(0, 0, SampledOptions{}, nil, nil, nil).Init(data)
	assert.Error(t, err, "same device twice")

	_, err = NewSampled(0, 5, SampledOptions{}, nil, nil, nil).Init(data)
	assert.Error(t, err, "device index out of range")

	// Two devices in the same origin cannot be calibrated against each
	// other.
	same := sim.New()
	o := same.AddOrigin("only")
	same.AddDevice("A", "a", o, func(xrt.Time) (transform.Transform, bool) { return transform.Identity(), true })
	same.AddDevice("B", "b", o, func(xrt.Time) (transform.Transform, bool) { return transform.Identity(), true })
	sameData, err := NewData(same)
	require.NoError(t, err)
	_, err = NewSampled(0, 1, SampledOptions{}, nil, nil, nil).Init(sameData)
	assert.Error(t, err, "same tracking origin")

	// The valid pair passes.
	_, err = NewSampled(0, 1, SampledOptions{}, nil, nil, nil).Init(data)
	assert.NoError(t, err)
}

func TestSampledConvergence(t *testing.T) {
	misalignment := transform.Transform{
		Basis:  transform.RotationY(10 * math.Pi / 180),
		Origin: transform.Vec3{X: 0.1, Y: 0.02, Z: -0.05},
	}
	rig := transform.Transform{
		Basis:  transform.RotationY(5 * math.Pi / 180),
		Origin: transform.Vec3{Y: -0.1, Z: 0.05},
	}
	rt := twoOriginRig(misalignment, rig)
	data, err := NewData(rt)
	require.NoError(t, err)

	clock := timeutil.NewMockClock(testBaseTime())
	cal := NewSampled(0, 1, SampledOptions{NumSamples: 60}, nil, nil, clock)
	_, err = cal.Init(data)
	require.NoError(t, err)

	res := drive(t, rt, data, cal, 120)
	require.Equal(t, StepEnd, res.Kind, "calibration should finish")

	origins := rt.TrackingOrigins()
	got, err := origins[1].GetOffset()
	require.NoError(t, err)

	diff := misalignment.Inverse().Mul(got)
	assert.Less(t, diff.Origin.Norm(), 0.02, "translation error, got offset %s", got)
	assert.Less(t, diff.Basis.RotationAngle(), 1*math.Pi/180, "rotation error, got offset %s", got)
}

func TestSampledBadTranslationRetries(t *testing.T) {
	// A 200m misalignment solves fine but fails the plausibility bound,
	// which must clear the batch and reset the destination offset.
	misalignment := transform.Transform{
		Basis:  transform.RotationY(10 * math.Pi / 180),
		Origin: transform.Vec3{X: 200},
	}
	rt := twoOriginRig(misalignment, transform.Identity())
	data, err := NewData(rt)
	require.NoError(t, err)

	dstOrigin := rt.TrackingOrigins()[1]
	stale := transform.Transform{Basis: transform.RotationY(0.5), Origin: transform.Vec3{X: 1}}
	require.NoError(t, dstOrigin.SetOffset(stale))

	cal := NewSampled(0, 1, SampledOptions{NumSamples: 40}, nil, nil, timeutil.NewMockClock(testBaseTime()))
	_, err = cal.Init(data)
	require.NoError(t, err)

	// Collect the full batch. Samples observe the stale offset; the
	// solved translation lands far outside the plausible range.
	for i := 0; i < 40; i++ {
		rt.Advance(xrt.Time(100 * 1e6))
		require.NoError(t, data.Refresh())
		res, err := cal.Step(data)
		require.NoError(t, err)
		require.Equal(t, StepContinue, res.Kind)
	}

	res, err := cal.Step(data)
	require.NoError(t, err)
	assert.Equal(t, StepContinue, res.Kind, "bad solve must retry, not end")
	assert.Equal(t, 0, cal.SampleCount(), "samples must be cleared for the retry")

	got, err := dstOrigin.GetOffset()
	require.NoError(t, err)
	assert.Equal(t, transform.Identity(), got, "destination offset must be reset")
}

func TestSampledMaintainHandsOffToContinuous(t *testing.T) {
	misalignment := transform.Transform{
		Basis:  transform.RotationY(8 * math.Pi / 180),
		Origin: transform.Vec3{X: 0.2, Z: 0.1},
	}
	rig := transform.Transform{Origin: transform.Vec3{Y: -0.1}}
	rt := twoOriginRig(misalignment, rig)
	data, err := NewData(rt)
	require.NoError(t, err)

	opts := SampledOptions{
		NumSamples: 60,
		Maintain:   true,
		MaintainConfig: ContinuousConfig{
			LerpFactor:        0.05,
			AnomalyResetAfter: 2 * time.Second,
			JumpCooldownTicks: 7,
		},
	}
	cal := NewSampled(0, 1, opts, nil, nil, timeutil.NewMockClock(testBaseTime()))
	_, err = cal.Init(data)
	require.NoError(t, err)

	res := drive(t, rt, data, cal, 120)
	require.Equal(t, StepReplace, res.Kind, "maintained calibration should hand off")

	next, ok := res.Next.(*Continuous)
	require.True(t, ok, "hand-off target should be the continuous maintainer")

	// The maintained target maps tracker pose to headset pose, which for
	// this rig is the inverse of the fixed mount transform.
	diff := next.Target().Mul(rig)
	assert.Less(t, diff.Origin.Norm(), 0.02)
	assert.Less(t, diff.Basis.RotationAngle(), 1*math.Pi/180)

	// The maintainer runs with the tuning handed through the options;
	// anything left unset falls back to its default.
	assert.Equal(t, 0.05, next.cfg.LerpFactor)
	assert.Equal(t, 2*time.Second, next.cfg.AnomalyResetAfter)
	assert.Equal(t, 7, next.cfg.JumpCooldownTicks)
	assert.Equal(t, DefaultLinearSpeedLimit, next.cfg.LinearSpeedLimit)
}

func TestAverageDeviceOffsetNearHalfTurn(t *testing.T) {
	// Deltas straddling the 180 degree yaw antipode: naive quaternion
	// averaging cancels here unless scalar signs are normalized.
	s := &Sampled{}
	for _, yawDeg := range []float64{174, 186, 175, 185, 180} {
		rel := transform.Transform{Basis: transform.RotationY(yawDeg * math.Pi / 180)}
		b := transform.Transform{Basis: transform.RotationY(0.3), Origin: transform.Vec3{X: 1}}
		s.samples = append(s.samples, sample{a: b.Mul(rel), b: b})
	}

	got := s.averageDeviceOffset(transform.Identity())
	want := transform.RotationY(math.Pi)
	diff := got.Basis.Mul(want.Transpose())
	if diff.RotationAngle() > 0.5*math.Pi/180 {
		t.Errorf("average rotation off by %.2f deg", diff.RotationAngle()*180/math.Pi)
	}
}

func TestLeastSquaresExactSystem(t *testing.T) {
	// Overdetermined but consistent: x = (1, -2, 3).
	rows := [][4]float64{
		{1, 0, 0, 1},
		{0, 1, 0, -2},
		{0, 0, 1, 3},
		{1, 1, 0, -1},
		{0, 1, 1, 1},
		{1, 0, 1, 4},
	}
	a := newDenseFromRows(rows)
	b := newVecFromRows(rows)
	x, err := leastSquares(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1, x.AtVec(0), 1e-9)
	assert.InDelta(t, -2, x.AtVec(1), 1e-9)
	assert.InDelta(t, 3, x.AtVec(2), 1e-9)
}
