package calib

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
)

// Tuning constants for the rigid registration fit.
const (
	// DefaultSampleCount is the number of pose pairs collected before
	// solving.
	DefaultSampleCount = 500

	// MinDeltaAngle rejects sample pairs whose incremental rotation is
	// below this angle (radians). Such pairs carry almost no rotational
	// information and destabilize the axis fit.
	MinDeltaAngle = 0.4

	// MinAxisNormSquared rejects delta axes shorter than this before
	// normalization.
	MinAxisNormSquared = 0.1

	// MaxTranslationNormSquared marks a solved translation as implausible;
	// the whole batch is discarded and sampling restarts.
	MaxTranslationNormSquared = 10000.0

	// svdTolerance is the relative singular value cutoff for the
	// least-squares pseudo-inverse.
	svdTolerance = 1e-12
)

// sample is one pair of poses captured at the same instant, both in the
// shared stage frame.
type sample struct {
	a transform.Transform
	b transform.Transform
}

// deltaAxes is a matched pair of unit rotation axes extracted from the
// incremental rotations both devices underwent between two instants.
type deltaAxes struct {
	a transform.Vec3
	b transform.Vec3
}

// newDeltaAxes derives the axis pair for samples i and j, or ok=false
// when either rotation is too small to be informative.
func newDeltaAxes(si, sj sample) (deltaAxes, bool) {
	deltaA := si.a.Basis.Mul(sj.a.Basis.Transpose())
	deltaB := si.b.Basis.Mul(sj.b.Basis.Transpose())

	axisA := deltaA.RotationAxis()
	axisB := deltaB.RotationAxis()

	if deltaA.RotationAngle() < MinDeltaAngle ||
		deltaB.RotationAngle() < MinDeltaAngle ||
		axisA.NormSquared() < MinAxisNormSquared ||
		axisB.NormSquared() < MinAxisNormSquared {
		return deltaAxes{}, false
	}

	return deltaAxes{a: axisA.Normalized(), b: axisB.Normalized()}, true
}

// SampledOptions configures a sampled calibration run.
type SampledOptions struct {
	// Maintain hands off into continuous offset maintenance after a
	// successful solve instead of ending.
	Maintain bool
	// NumSamples overrides DefaultSampleCount when > 0.
	NumSamples int
	// Profile names the persisted calibration record.
	Profile string
	// MaintainConfig tunes the continuous maintainer handed off to when
	// Maintain is set. Zero-valued fields take the defaults.
	MaintainConfig ContinuousConfig
}

// Sampled estimates the rigid transform between two tracking origins by
// observing two devices that move together: rotation from a Kabsch fit
// over delta-rotation axes, translation from a stacked least-squares
// solve. Follows the math of OpenVR-SpaceCalibrator by pushrax
// (https://github.com/pushrax/OpenVR-SpaceCalibrator/blob/master/math.pdf).
type Sampled struct {
	srcDev  int
	dstDev  int
	opts    SampledOptions
	store   Store
	sink    StatusSink
	clock   timeutil.Clock
	samples []sample
	runFrom time.Time // when the first sample was collected
}

// NewSampled builds a sampled calibrator for the given device indices.
// store and sink may be nil.
func NewSampled(srcDev, dstDev int, opts SampledOptions, store Store, sink StatusSink, clock timeutil.Clock) *Sampled {
	if opts.NumSamples <= 0 {
		opts.NumSamples = DefaultSampleCount
	}
	if sink == nil {
		sink = NopSink{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sampled{
		srcDev:  srcDev,
		dstDev:  dstDev,
		opts:    opts,
		store:   store,
		sink:    sink,
		clock:   clock,
		samples: make([]sample, 0, opts.NumSamples),
	}
}

// Init validates the device pair and announces the run.
func (s *Sampled) Init(data *Data) (StepResult, error) {
	if s.srcDev == s.dstDev {
		return End(), fmt.Errorf("src and dst are the same device")
	}
	if s.srcDev < 0 || s.srcDev >= len(data.Devices) || s.dstDev < 0 || s.dstDev >= len(data.Devices) {
		return End(), fmt.Errorf("device index out of range")
	}
	if data.Devices[s.srcDev].TrackingOriginID == data.Devices[s.dstDev].TrackingOriginID {
		return End(), fmt.Errorf("both devices are in the same tracking origin")
	}

	s.sink.SetMode("sampling", "Move the two devices together!")
	monitoring.Logf("Move the two devices together!")
	return Continue(), nil
}

// Step collects one sample per tick until the batch is full, then
// solves and either ends, retries, or hands off to continuous mode.
func (s *Sampled) Step(data *Data) (StepResult, error) {
	if len(s.samples) < s.opts.NumSamples {
		// Collection is best-effort: a failed pose query skips the tick.
		if err := s.collect(data); err == nil && len(s.samples) == 1 {
			s.runFrom = s.clock.Now()
		}
		s.sink.SetProgress(len(s.samples), s.opts.NumSamples)
		return Continue(), nil
	}

	s.sink.SetMode("solving", "Calculating...")

	rot, pairs := s.calibrateRotation()
	pos, err := s.calibrateTranslation(rot)
	if err != nil {
		return End(), fmt.Errorf("translation solve: %w", err)
	}

	dstOrigin, err := data.DeviceOrigin(s.dstDev)
	if err != nil {
		return End(), err
	}

	if pos.NormSquared() > MaxTranslationNormSquared {
		monitoring.Logf("Calibration failed, retrying...")
		s.recordRun(data, pairs, pos.Norm(), false)
		s.samples = s.samples[:0]
		if err := dstOrigin.SetOffset(transform.Identity()); err != nil {
			return End(), fmt.Errorf("reset destination offset: %w", err)
		}
		s.sink.SetMode("sampling", "Retrying, move the two devices together!")
		return Continue(), nil
	}

	offset := transform.Transform{Basis: rot, Origin: pos}
	monitoring.Logf("Calibration done. Offset: %s", offset)
	s.recordRun(data, pairs, s.meanResidual(offset), true)

	dstRoot, err := dstOrigin.GetOffset()
	if err != nil {
		return End(), fmt.Errorf("read destination offset: %w", err)
	}
	if err := dstOrigin.SetOffset(offset.Mul(dstRoot)); err != nil {
		return End(), fmt.Errorf("apply destination offset: %w", err)
	}

	if s.opts.Maintain {
		devOffset := s.averageDeviceOffset(offset)
		s.persist(SavedCalibration{
			Profile: s.opts.Profile,
			Kind:    OffsetDevice,
			Src:     data.Devices[s.srcDev].Serial,
			Dst:     data.Devices[s.dstDev].Serial,
			Offset:  devOffset,
		})
		next := NewContinuous(s.srcDev, s.dstDev, devOffset, s.opts.MaintainConfig, s.clock, s.sink)
		return Replace(next), nil
	}

	srcOrigin, err := data.DeviceOrigin(s.srcDev)
	if err != nil {
		return End(), err
	}
	s.persist(SavedCalibration{
		Profile: s.opts.Profile,
		Kind:    OffsetTrackingOrigin,
		Src:     srcOrigin.Name(),
		Dst:     dstOrigin.Name(),
		Offset:  offset,
	})
	return End(), nil
}

// SampleCount returns how many samples have been collected so far.
func (s *Sampled) SampleCount() int { return len(s.samples) }

func (s *Sampled) collect(data *Data) error {
	locA, err := data.Devices[s.srcDev].Space.Locate(data.Stage, data.Now)
	if err != nil {
		return err
	}
	a, err := locA.Transform()
	if err != nil {
		return err
	}

	locB, err := data.Devices[s.dstDev].Space.Locate(data.Stage, data.Now)
	if err != nil {
		return err
	}
	b, err := locB.Transform()
	if err != nil {
		return err
	}

	s.samples = append(s.samples, sample{a: a, b: b})
	return nil
}

// calibrateRotation fits the rotation aligning origin B to origin A: a
// Kabsch/Procrustes solve over delta-rotation axis pairs. Axis
// directions are invariant to translation, which keeps translation out
// of the rotation fit entirely.
func (s *Sampled) calibrateRotation() (transform.Mat3, int) {
	deltas := make([]deltaAxes, 0, len(s.samples))
	for i := range s.samples {
		for j := 0; j < i; j++ {
			if d, ok := newDeltaAxes(s.samples[i], s.samples[j]); ok {
				deltas = append(deltas, d)
			}
		}
	}

	monitoring.Logf("Got %d samples with %d delta samples.", len(s.samples), len(deltas))

	if len(deltas) == 0 {
		return transform.IdentityMat3(), 0
	}

	var aCentroid, bCentroid transform.Vec3
	for _, d := range deltas {
		aCentroid = aCentroid.Add(d.a)
		bCentroid = bCentroid.Add(d.b)
	}
	recip := 1 / float64(len(deltas))
	aCentroid = aCentroid.Scale(recip)
	bCentroid = bCentroid.Scale(recip)

	aPoints := mat.NewDense(len(deltas), 3, nil)
	bPoints := mat.NewDense(len(deltas), 3, nil)
	for i, d := range deltas {
		da := d.a.Sub(aCentroid)
		db := d.b.Sub(bCentroid)
		aPoints.SetRow(i, []float64{da.X, da.Y, da.Z})
		bPoints.SetRow(i, []float64{db.X, db.Y, db.Z})
	}

	var crossCov mat.Dense
	crossCov.Mul(aPoints.T(), bPoints)

	var svd mat.SVD
	if ok := svd.Factorize(&crossCov, mat.SVDFull); !ok {
		return transform.IdentityMat3(), len(deltas)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	sign := 1.0
	if mat.Det(&uvt) < 0 {
		sign = -1.0
	}

	// rot = V * diag(1, 1, sign) * U^T, transposed into this package's
	// composition convention.
	d := mat.NewDiagDense(3, []float64{1, 1, sign})
	var vd, rot mat.Dense
	vd.Mul(&v, d)
	rot.Mul(&vd, u.T())

	var out transform.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = rot.At(j, i)
		}
	}
	return out, len(deltas)
}

// calibrateTranslation solves, with the rotation fixed, the single
// translation most consistent with every sample pair. Each pair
// contributes three equations for both the A-referenced and
// B-referenced formulations; the stacked system is solved by SVD-based
// least squares.
func (s *Sampled) calibrateTranslation(rot transform.Mat3) (transform.Vec3, error) {
	type eq struct {
		c transform.Vec3
		m transform.Mat3
	}
	rotated := make([]sample, len(s.samples))
	for i, sm := range s.samples {
		rotated[i] = sample{
			a: sm.a,
			b: transform.Transform{
				Basis:  rot.Mul(sm.b.Basis),
				Origin: rot.MulVec(sm.b.Origin),
			},
		}
	}

	var eqs []eq
	for i := range rotated {
		si := rotated[i]
		for j := 0; j < i; j++ {
			sj := rotated[j]

			rotAI := si.a.Basis.Transpose()
			rotAJ := sj.a.Basis.Transpose()
			var deltaRotA transform.Mat3
			for k := range deltaRotA {
				deltaRotA[k] = rotAJ[k] - rotAI[k]
			}
			ca := rotAJ.MulVec(sj.a.Origin.Sub(sj.b.Origin)).
				Sub(rotAI.MulVec(si.a.Origin.Sub(si.b.Origin)))
			eqs = append(eqs, eq{c: ca, m: deltaRotA})

			rotBI := si.b.Basis.Transpose()
			rotBJ := sj.b.Basis.Transpose()
			var deltaRotB transform.Mat3
			for k := range deltaRotB {
				deltaRotB[k] = rotBJ[k] - rotBI[k]
			}
			cb := rotBJ.MulVec(sj.a.Origin.Sub(sj.b.Origin)).
				Sub(rotBI.MulVec(si.a.Origin.Sub(si.b.Origin)))
			eqs = append(eqs, eq{c: cb, m: deltaRotB})
		}
	}

	if len(eqs) == 0 {
		return transform.Vec3{}, fmt.Errorf("no usable sample pairs")
	}

	coeffs := mat.NewDense(len(eqs)*3, 3, nil)
	constants := mat.NewVecDense(len(eqs)*3, nil)
	for i, e := range eqs {
		constants.SetVec(i*3, e.c.X)
		constants.SetVec(i*3+1, e.c.Y)
		constants.SetVec(i*3+2, e.c.Z)
		for axis := 0; axis < 3; axis++ {
			coeffs.SetRow(i*3+axis, []float64{e.m.At(axis, 0), e.m.At(axis, 1), e.m.At(axis, 2)})
		}
	}

	sol, err := leastSquares(coeffs, constants)
	if err != nil {
		return transform.Vec3{}, err
	}
	return transform.Vec3{X: sol.AtVec(0), Y: sol.AtVec(1), Z: sol.AtVec(2)}, nil
}

// leastSquares solves min ||A x - b|| via the SVD pseudo-inverse,
// dropping singular values below a relative tolerance.
func leastSquares(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// x = V * Σ⁺ * Uᵗ * b
	var utb mat.VecDense
	utb.MulVec(u.T(), b)

	cutoff := values[0] * svdTolerance
	scaled := mat.NewVecDense(len(values), nil)
	for i, sv := range values {
		if sv > cutoff && sv > 0 {
			scaled.SetVec(i, utb.AtVec(i)/sv)
		}
	}

	var x mat.VecDense
	x.MulVec(&v, scaled)
	return &x, nil
}

// averageDeviceOffset computes a robust device-level B-to-A residual
// offset over all samples: positions simple-averaged, orientations via
// the optimal quaternion average ("Averaging Quaternions", Markley,
// Cheng, Crassidis, Oshman) — the dominant eigenvector of the
// accumulated outer-product matrix Σ q·qᵗ with scalar-part sign
// normalization to avoid antipodal cancellation.
func (s *Sampled) averageDeviceOffset(offset transform.Transform) transform.Transform {
	var verts transform.Vec3
	acc := mat.NewSymDense(4, nil)

	for _, sm := range s.samples {
		delta := offset.Mul(sm.b).Inverse().Mul(sm.a)
		verts = verts.Add(delta.Origin)

		q := transform.QuatFromMat(delta.Basis)
		if q.Real < 0 {
			q = quat.Scale(-1, q)
		}

		v := [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
		for i := 0; i < 4; i++ {
			for j := i; j < 4; j++ {
				acc.SetSym(i, j, acc.At(i, j)+v[i]*v[j])
			}
		}
	}

	outPos := verts.Scale(1 / float64(len(s.samples)))

	var eig mat.EigenSym
	if ok := eig.Factorize(acc, true); !ok {
		return transform.Transform{Basis: offset.Basis, Origin: outPos}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are in ascending order; the dominant eigenvector is
	// the last column.
	e := vecs.ColView(3)
	outRot := transform.MatFromQuat(quat.Number{
		Real: e.AtVec(3),
		Imag: e.AtVec(0),
		Jmag: e.AtVec(1),
		Kmag: e.AtVec(2),
	})

	return transform.Transform{Basis: outRot, Origin: outPos}
}

// meanResidual reports the mean positional discrepancy between the
// fitted alignment and each sample's actual A/B relationship, and
// feeds the per-sample residuals to the status sink.
func (s *Sampled) meanResidual(offset transform.Transform) float64 {
	if len(s.samples) == 0 {
		return 0
	}
	points := make([]transform.Vec3, 0, len(s.samples))
	sum := 0.0
	for _, sm := range s.samples {
		delta := offset.Mul(sm.b).Inverse().Mul(sm.a)
		points = append(points, delta.Origin)
		sum += delta.Origin.Norm()
	}
	s.sink.SetResiduals(points)
	return sum / float64(len(s.samples))
}

func (s *Sampled) recordRun(data *Data, pairs int, residual float64, accepted bool) {
	if s.store == nil {
		return
	}
	run := RunRecord{
		RunID:          uuid.New().String(),
		Profile:        s.opts.Profile,
		SrcSerial:      data.Devices[s.srcDev].Serial,
		DstSerial:      data.Devices[s.dstDev].Serial,
		Samples:        len(s.samples),
		DeltaPairs:     pairs,
		ResidualMeters: residual,
		Accepted:       accepted,
		StartedAt:      s.runFrom,
		FinishedAt:     s.clock.Now(),
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	if math.IsNaN(run.ResidualMeters) {
		run.ResidualMeters = 0
	}
	if err := s.store.RecordRun(run); err != nil {
		monitoring.Logf("Could not record calibration run: %v", err)
	}
}

func (s *Sampled) persist(rec SavedCalibration) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveCalibration(rec); err != nil {
		monitoring.Logf("Could not save calibration: %v", err)
		return
	}
	monitoring.Logf("Saved calibration. Use `spacecal continue` on next startup to use this.")
}
