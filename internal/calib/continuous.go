package calib

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
)

// Defaults for continuous offset maintenance.
const (
	// DefaultLerpFactor is the per-tick smoothing factor; small values
	// smooth heavily.
	DefaultLerpFactor = 0.02

	// DefaultLinearSpeedLimit gates out ticks where either device moves
	// faster than this (m/s); pose noise dominates the correction then.
	DefaultLinearSpeedLimit = 0.7

	// DefaultAngularSpeedLimit gates out fast rotation (rad/s).
	DefaultAngularSpeedLimit = 0.7

	// DefaultAnomalyDistance: a computed offset farther than this from
	// the world origin is treated as a sensor anomaly.
	DefaultAnomalyDistance = 100.0

	// DefaultAnomalyResetAfter: how long an anomaly must persist before
	// the destination offset is reset to identity.
	DefaultAnomalyResetAfter = 5 * time.Second

	// DefaultJumpDistanceSquared: a source position delta larger than
	// this between accepted ticks is a tracking re-acquisition jump.
	DefaultJumpDistanceSquared = 0.5

	// DefaultJumpCooldownTicks: how many ticks after a jump keep the
	// smoothing factor pinned to 1 so the offset snaps instead of
	// crawling.
	DefaultJumpCooldownTicks = 20
)

// ContinuousConfig tunes the continuous maintainer. Zero values fall
// back to the defaults above.
type ContinuousConfig struct {
	LerpFactor          float64
	LinearSpeedLimit    float64
	AngularSpeedLimit   float64
	AnomalyDistance     float64
	AnomalyResetAfter   time.Duration
	JumpDistanceSquared float64
	JumpCooldownTicks   int

	// TranslationOnly restores the legacy behavior that corrected
	// translation but left rotation untouched.
	//
	// Deprecated: the rotation correction path supersedes this; it is
	// kept only for comparison against old recordings.
	TranslationOnly bool
}

func (c ContinuousConfig) withDefaults() ContinuousConfig {
	if c.LerpFactor <= 0 || c.LerpFactor > 1 {
		c.LerpFactor = DefaultLerpFactor
	}
	if c.LinearSpeedLimit <= 0 {
		c.LinearSpeedLimit = DefaultLinearSpeedLimit
	}
	if c.AngularSpeedLimit <= 0 {
		c.AngularSpeedLimit = DefaultAngularSpeedLimit
	}
	if c.AnomalyDistance <= 0 {
		c.AnomalyDistance = DefaultAnomalyDistance
	}
	if c.AnomalyResetAfter <= 0 {
		c.AnomalyResetAfter = DefaultAnomalyResetAfter
	}
	if c.JumpDistanceSquared <= 0 {
		c.JumpDistanceSquared = DefaultJumpDistanceSquared
	}
	if c.JumpCooldownTicks <= 0 {
		c.JumpCooldownTicks = DefaultJumpCooldownTicks
	}
	return c
}

// Continuous maintains a fixed relative transform between two devices by
// correcting the destination device's tracking-origin offset a little
// every tick. Ticks are rejected outright during fast motion; implausible
// corrections arm an anomaly timer instead of being applied; tracking
// re-acquisition jumps snap immediately instead of smoothing.
type Continuous struct {
	deviceA int
	deviceB int
	target  transform.Transform // fixed B-to-A offset
	cfg     ContinuousConfig
	clock   timeutil.Clock
	sink    StatusSink

	anomalySince  time.Time // zero while no anomaly is running
	lastPosA      transform.Vec3
	lastPosAValid bool
	jumpTicksLeft int
}

// NewContinuous builds a continuous maintainer for the fixed B-to-A
// target offset. sink and clock may be nil.
func NewContinuous(deviceA, deviceB int, target transform.Transform, cfg ContinuousConfig, clock timeutil.Clock, sink StatusSink) *Continuous {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Continuous{
		deviceA: deviceA,
		deviceB: deviceB,
		target:  target,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		sink:    sink,
	}
}

// NewContinuousFromEuler builds a continuous maintainer from explicit
// rotation (degrees) and position offsets, as given on the command line.
func NewContinuousFromEuler(deviceA, deviceB int, rotDeg, pos transform.Vec3, cfg ContinuousConfig, clock timeutil.Clock, sink StatusSink) *Continuous {
	const degToRad = math.Pi / 180
	target := transform.Transform{
		Basis:  transform.EulerZXY(rotDeg.Y*degToRad, rotDeg.X*degToRad, rotDeg.Z*degToRad),
		Origin: pos,
	}
	return NewContinuous(deviceA, deviceB, target, cfg, clock, sink)
}

// Target returns the fixed B-to-A offset being maintained.
func (c *Continuous) Target() transform.Transform { return c.target }

// Init logs the device pair and the target offset.
func (c *Continuous) Init(data *Data) (StepResult, error) {
	for _, idx := range []int{c.deviceA, c.deviceB} {
		if idx < 0 || idx >= len(data.Devices) {
			return End(), fmt.Errorf("no such device: %d", idx)
		}
	}
	a := data.Devices[c.deviceA]
	b := data.Devices[c.deviceB]
	monitoring.Logf("Device A: %s (%s)", a.Serial, a.Name)
	monitoring.Logf("Device B: %s (%s)", b.Serial, b.Name)
	monitoring.Logf("B-to-A offset: %s", c.target)
	c.sink.SetMode("offset", "Offset mode starting.")
	return Continue(), nil
}

// Step performs one correction tick.
func (c *Continuous) Step(data *Data) (StepResult, error) {
	locA, velA, err := data.Devices[c.deviceA].Space.Relate(data.Stage, data.Now)
	if err != nil {
		return End(), fmt.Errorf("relate device A: %w", err)
	}
	locB, velB, err := data.Devices[c.deviceB].Space.Relate(data.Stage, data.Now)
	if err != nil {
		return End(), fmt.Errorf("relate device B: %w", err)
	}

	poseA, errA := locA.Transform()
	poseB, errB := locB.Transform()
	if errA != nil || errB != nil {
		// Tracking loss: report and skip; no state is mutated.
		c.sink.SetMode("offset", "Device(s) not tracking.")
		return Continue(), nil
	}

	if velA.EffectiveLinear().Norm() > c.cfg.LinearSpeedLimit ||
		velB.EffectiveLinear().Norm() > c.cfg.LinearSpeedLimit ||
		velA.EffectiveAngular().Norm() > c.cfg.AngularSpeedLimit ||
		velB.EffectiveAngular().Norm() > c.cfg.AngularSpeedLimit {
		c.sink.SetMode("offset", "Devices moving too fast.")
		return Continue(), nil
	}

	originB, err := data.DeviceOrigin(c.deviceB)
	if err != nil {
		return End(), err
	}
	rootB, err := originB.GetOffset()
	if err != nil {
		return End(), fmt.Errorf("read destination offset: %w", err)
	}

	// Where A would be if the fixed relationship held exactly, and the
	// global correction that closes the gap.
	targetA := poseB.Mul(c.target)
	deviation := poseA.Mul(targetA.Inverse())

	var targetRoot transform.Transform
	if c.cfg.TranslationOnly {
		targetRoot = transform.Transform{
			Basis:  rootB.Basis,
			Origin: rootB.Origin.Sub(targetA.Origin.Sub(poseA.Origin)),
		}
	} else {
		targetRoot = deviation.Mul(rootB)
	}

	if targetRoot.Origin.Norm() > c.cfg.AnomalyDistance {
		now := c.clock.Now()
		if c.anomalySince.IsZero() {
			c.anomalySince = now
		} else if now.Sub(c.anomalySince) >= c.cfg.AnomalyResetAfter {
			monitoring.Logf("Anomaly persisted for %s; resetting destination offset.", c.cfg.AnomalyResetAfter)
			if err := originB.SetOffset(transform.Identity()); err != nil {
				return End(), fmt.Errorf("reset destination offset: %w", err)
			}
			c.anomalySince = now
		}
		c.sink.SetMode("offset", "Offset anomaly detected.")
		return Continue(), nil
	}
	c.anomalySince = time.Time{}

	factor := c.cfg.LerpFactor
	if c.lastPosAValid && poseA.Origin.Sub(c.lastPosA).NormSquared() > c.cfg.JumpDistanceSquared {
		c.jumpTicksLeft = c.cfg.JumpCooldownTicks
	}
	if c.jumpTicksLeft > 0 {
		factor = 1.0
		c.jumpTicksLeft--
	}

	if err := originB.SetOffset(rootB.Lerp(targetRoot, factor)); err != nil {
		return End(), fmt.Errorf("apply destination offset: %w", err)
	}
	c.lastPosA = poseA.Origin
	c.lastPosAValid = true

	c.sink.SetMode("offset", "Offset mode active.")
	c.sink.ObserveDeviation(targetA.Origin.Sub(poseA.Origin).Norm())
	return Continue(), nil
}
