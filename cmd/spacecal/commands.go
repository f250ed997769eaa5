package main

import (
	"context"
	"flag"
	"fmt"
	"math"

	"github.com/banshee-data/spacecal/internal/calib"
	"github.com/banshee-data/spacecal/internal/caldb"
	"github.com/banshee-data/spacecal/internal/config"
	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// cmdEnv carries the shared wiring every subcommand needs.
type cmdEnv struct {
	ctx   context.Context
	cfg   *config.TuningConfig
	clock timeutil.Clock
	sink  calib.StatusSink
	db    *caldb.DB
}

// store returns the persistence layer, or a nil interface when -db is
// disabled so calibrators take their no-store path.
func (e *cmdEnv) store() calib.Store {
	if e.db == nil {
		return nil
	}
	return e.db
}

func (e *cmdEnv) session() (*calib.Data, error) {
	sys, err := connect(e.ctx, e.clock)
	if err != nil {
		return nil, err
	}
	return calib.NewData(sys)
}

func (e *cmdEnv) cmdCalibrate(args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	samples := fs.Int("samples", 0, "Number of pose pairs to collect (0 = default)")
	maintain := fs.Bool("continue", false, "Hand off into continuous maintenance after solving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: spacecal calibrate [-continue] [-samples N] <src-serial> <dst-serial>")
	}
	srcSerial, dstSerial := fs.Arg(0), fs.Arg(1)

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	src, ok := data.FindDevice(srcSerial)
	if !ok {
		return fmt.Errorf("no device with serial %q", srcSerial)
	}
	dst, ok := data.FindDevice(dstSerial)
	if !ok {
		return fmt.Errorf("no device with serial %q", dstSerial)
	}

	opts := calib.SampledOptions{
		Maintain:       *maintain,
		NumSamples:     *samples,
		Profile:        *profile,
		MaintainConfig: e.cfg.ContinuousConfig(),
	}
	if opts.NumSamples == 0 {
		opts.NumSamples = e.cfg.GetSampleCount()
	}

	cal := calib.NewSampled(src, dst, opts, e.store(), e.sink, e.clock)
	return runLoop(e.ctx, e, data, cal)
}

func (e *cmdEnv) cmdOffset(args []string) error {
	fs := flag.NewFlagSet("offset", flag.ContinueOnError)
	yaw := fs.Float64("yaw", 0, "Target yaw offset in degrees")
	pitch := fs.Float64("pitch", 0, "Target pitch offset in degrees")
	roll := fs.Float64("roll", 0, "Target roll offset in degrees")
	x := fs.Float64("x", 0, "Target X offset in metres")
	y := fs.Float64("y", 0, "Target Y offset in metres")
	z := fs.Float64("z", 0, "Target Z offset in metres")
	lerp := fs.Float64("lerp", 0, "Smoothing factor in (0, 1] (0 = tuning default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: spacecal offset [rotation/position flags] <src-serial> <dst-serial>")
	}

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	cal, err := e.offsetMaintainer(data, fs.Arg(0), fs.Arg(1),
		transform.Vec3{X: *pitch, Y: *yaw, Z: *roll},
		transform.Vec3{X: *x, Y: *y, Z: *z}, *lerp)
	if err != nil {
		return err
	}
	return runLoop(e.ctx, e, data, cal)
}

// offsetMaintainer resolves the device pair and builds a continuous
// maintainer for an explicitly supplied B-to-A offset, skipping the
// sampling phase entirely.
func (e *cmdEnv) offsetMaintainer(data *calib.Data, srcSerial, dstSerial string, rotDeg, pos transform.Vec3, lerp float64) (*calib.Continuous, error) {
	src, ok := data.FindDevice(srcSerial)
	if !ok {
		return nil, fmt.Errorf("no device with serial %q", srcSerial)
	}
	dst, ok := data.FindDevice(dstSerial)
	if !ok {
		return nil, fmt.Errorf("no device with serial %q", dstSerial)
	}

	cfg := e.cfg.ContinuousConfig()
	if lerp > 0 {
		cfg.LerpFactor = lerp
	}
	return calib.NewContinuousFromEuler(src, dst, rotDeg, pos, cfg, e.clock, e.sink), nil
}

func (e *cmdEnv) cmdContinue(args []string) error {
	if e.db == nil {
		return fmt.Errorf("continue requires a calibration database (-db)")
	}
	rec, err := e.db.LoadCalibration(*profile)
	if err != nil {
		return err
	}

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	switch rec.Kind {
	case calib.OffsetTrackingOrigin:
		// One-shot: compose the saved offset onto the current state.
		if err := calib.ApplySavedOrigin(data, rec); err != nil {
			return err
		}
		monitoring.Logf("Applied saved calibration %q (%s -> %s)", rec.Profile, rec.Src, rec.Dst)
		return nil
	case calib.OffsetDevice:
		cal, err := calib.ResumeContinuous(data, rec, e.cfg.ContinuousConfig(), e.clock, e.sink)
		if err != nil {
			return err
		}
		return runLoop(e.ctx, e, data, cal)
	default:
		return fmt.Errorf("unknown saved calibration kind %q", rec.Kind)
	}
}

func (e *cmdEnv) cmdFloor(args []string) error {
	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	cal, err := calib.NewFloor(data.System, e.sink)
	if err != nil {
		return err
	}
	return runLoop(e.ctx, e, data, cal)
}

func (e *cmdEnv) cmdRecenter(args []string) error {
	fs := flag.NewFlagSet("recenter", flag.ContinueOnError)
	space := fs.String("space", "stage", `Reference space to recenter ("stage" or "local")`)
	height := fs.String("height", "keep", `New eye height in metres, or "keep"`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cal, err := calib.NewRecenter(*space, *height, e.sink)
	if err != nil {
		return err
	}

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	return runLoop(e.ctx, e, data, cal)
}

func (e *cmdEnv) cmdAdjust(args []string) error {
	fs := flag.NewFlagSet("adjust", flag.ContinueOnError)
	relative := fs.Bool("relative", false, "Compose with the current offset instead of replacing it")
	yaw := fs.Float64("yaw", 0, "Yaw adjustment in degrees")
	x := fs.Float64("x", 0, "X adjustment in metres")
	y := fs.Float64("y", 0, "Y adjustment in metres")
	z := fs.Float64("z", 0, "Z adjustment in metres")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: spacecal adjust <origin|stage|local> [flags]")
	}
	target := fs.Arg(0)

	adj := transform.Transform{
		Basis:  transform.RotationY(*yaw * math.Pi / 180),
		Origin: transform.Vec3{X: *x, Y: *y, Z: *z},
	}

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	get, set, err := offsetAccess(data, target)
	if err != nil {
		return err
	}

	next := adj
	if *relative {
		cur, err := get()
		if err != nil {
			return err
		}
		next = adj.Mul(cur)
	}
	if err := set(next); err != nil {
		return err
	}
	fmt.Printf("%s offset now %s\n", target, next)
	return nil
}

func (e *cmdEnv) cmdReset(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spacecal reset <origin|stage|local|profile>")
	}
	target := args[0]

	if target == "profile" {
		if e.db == nil {
			return fmt.Errorf("reset profile requires a calibration database (-db)")
		}
		if err := e.db.DeleteCalibration(*profile); err != nil {
			return err
		}
		fmt.Printf("deleted saved calibration %q\n", *profile)
		return nil
	}

	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	_, set, err := offsetAccess(data, target)
	if err != nil {
		return err
	}
	if err := set(transform.Identity()); err != nil {
		return err
	}
	fmt.Printf("%s offset reset to identity\n", target)
	return nil
}

func (e *cmdEnv) cmdShow(args []string) error {
	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	for _, o := range data.Origins {
		offset, err := o.GetOffset()
		if err != nil {
			fmt.Printf("origin %d %q: offset unavailable: %v\n", o.ID(), o.Name(), err)
			continue
		}
		fmt.Printf("origin %d %q: %s\n", o.ID(), o.Name(), offset)
		for _, d := range data.Devices {
			if d.TrackingOriginID != o.ID() {
				continue
			}
			fmt.Printf("  device %d %q serial=%s\n", d.Index, d.Name, d.Serial)
		}
	}

	if e.db != nil {
		if rec, err := e.db.LoadCalibration(*profile); err == nil {
			fmt.Printf("saved calibration %q: kind=%s %s -> %s: %s\n",
				rec.Profile, rec.Kind, rec.Src, rec.Dst, rec.Offset)
		}
		runs, err := e.db.Runs(*profile, 5)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("run %s: pairs=%d residual=%.4fm accepted=%v at %s\n",
				r.RunID, r.DeltaPairs, r.ResidualMeters, r.Accepted,
				r.FinishedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func (e *cmdEnv) cmdMonitor(args []string) error {
	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	return runLoop(e.ctx, e, data, calib.NewMonitor(e.clock, e.sink))
}

func (e *cmdEnv) cmdCheck(args []string) error {
	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	fmt.Printf("runtime ok: %d devices, %d tracking origins\n",
		len(data.Devices), len(data.Origins))
	return nil
}

func (e *cmdEnv) cmdNumDevices(args []string) error {
	data, err := e.session()
	if err != nil {
		return err
	}
	defer data.System.Close()

	fmt.Println(len(data.Devices))
	return nil
}

// offsetAccess resolves an adjust/reset target to its offset accessors:
// "stage" and "local" address reference spaces, anything else a tracking
// origin by name.
func offsetAccess(data *calib.Data, target string) (func() (transform.Transform, error), func(transform.Transform) error, error) {
	switch target {
	case "stage", "local":
		kind := xrt.RefStage
		if target == "local" {
			kind = xrt.RefLocal
		}
		get := func() (transform.Transform, error) {
			return data.System.ReferenceSpaceOffset(kind)
		}
		set := func(t transform.Transform) error {
			return data.System.SetReferenceSpaceOffset(kind, t)
		}
		return get, set, nil
	}

	for _, o := range data.Origins {
		if o.Name() == target {
			return o.GetOffset, o.SetOffset, nil
		}
	}
	return nil, nil, fmt.Errorf("no tracking origin named %q (and not stage/local)", target)
}
