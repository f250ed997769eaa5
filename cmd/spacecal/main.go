// Command spacecal calibrates and maintains the alignment of independent
// VR tracking origins into a shared reference space.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/spacecal/internal/calib"
	"github.com/banshee-data/spacecal/internal/caldb"
	"github.com/banshee-data/spacecal/internal/config"
	"github.com/banshee-data/spacecal/internal/monitor"
	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/version"
	"github.com/banshee-data/spacecal/internal/xrt"
	"github.com/banshee-data/spacecal/internal/xrt/bridge"
	"github.com/banshee-data/spacecal/internal/xrt/sim"
)

// Exit codes. 2 is reserved for "runtime not running" so scripts can
// tell an absent runtime from a failed calibration.
const (
	exitFailure            = 1
	exitRuntimeUnavailable = 2
)

var (
	bridgeURL  = flag.String("url", "ws://127.0.0.1:18350/bridge", "Runtime bridge WebSocket URL")
	devMode    = flag.Bool("dev", false, "Run against the built-in simulated runtime")
	waitForRT  = flag.Bool("wait", false, "Poll until the runtime is reachable before starting")
	dbPath     = flag.String("db", "spacecal.db", "Calibration database path (empty disables persistence)")
	configPath = flag.String("config", "", "Tuning config JSON path")
	listenAddr = flag.String("listen", "", "Monitor HTTP listen address (empty disables the monitor server)")
	profile    = flag.String("profile", "last", "Calibration profile name")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: spacecal [flags] <command> [args]

Commands:
  calibrate [-continue] [-samples N] <src-serial> <dst-serial>
                                        sampled calibration; -continue hands off
                                        into continuous maintenance
  offset [-yaw|-pitch|-roll DEG] [-x|-y|-z M] [-lerp F] <src-serial> <dst-serial>
                                        continuously maintain an explicit device offset
  continue                              re-apply or resume the saved calibration
  floor                                 lower the stage offset to the tracked floor
  recenter [-space S] [-height H]       re-aim the reference space at the headset
  adjust <target> [-relative] [-yaw DEG] [-x|-y|-z M]
                                        manually adjust an origin or reference offset
  reset <target>                        reset an offset (or "profile") to identity
  show                                  print origins, devices and offsets
  monitor                               log origin/device state once a second
  check                                 probe runtime reachability
  numdevices                            print the number of tracked devices
  version                               print build information

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args[0], args[1:]); err != nil {
		monitoring.Logf("spacecal: %v", err)
		if errors.Is(err, bridge.ErrRuntimeUnavailable) {
			os.Exit(exitRuntimeUnavailable)
		}
		os.Exit(exitFailure)
	}
}

func run(ctx context.Context, command string, args []string) error {
	if command == "version" {
		fmt.Printf("spacecal %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env := &cmdEnv{
		ctx:   ctx,
		cfg:   cfg,
		clock: timeutil.RealClock{},
		sink:  calib.NopSink{},
	}

	if *listenAddr != "" {
		state := monitor.NewState()
		env.sink = state
		srv := monitor.NewWebServer(*listenAddr, state)
		go srv.Start(ctx)
	}

	if *dbPath != "" {
		db, err := caldb.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("open calibration db: %w", err)
		}
		defer db.Close()
		env.db = db
	}

	switch command {
	case "calibrate":
		return env.cmdCalibrate(args)
	case "offset":
		return env.cmdOffset(args)
	case "continue":
		return env.cmdContinue(args)
	case "floor":
		return env.cmdFloor(args)
	case "recenter":
		return env.cmdRecenter(args)
	case "adjust":
		return env.cmdAdjust(args)
	case "reset":
		return env.cmdReset(args)
	case "show":
		return env.cmdShow(args)
	case "monitor":
		return env.cmdMonitor(args)
	case "check":
		return env.cmdCheck(args)
	case "numdevices":
		return env.cmdNumDevices(args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func loadConfig() (*config.TuningConfig, error) {
	if *configPath == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(*configPath)
}

// connect dials the runtime, or hands back the simulated one in -dev
// mode. With -wait it polls until the runtime answers, pacing the
// retries on the injected clock.
func connect(ctx context.Context, clock timeutil.Clock) (xrt.System, error) {
	if *devMode {
		monitoring.Logf("Using simulated runtime")
		return sim.NewDemo(), nil
	}

	var retry timeutil.Ticker
	for {
		sys, err := bridge.Dial(ctx, *bridgeURL)
		if err == nil {
			return sys, nil
		}
		if errors.Is(err, bridge.ErrIncompatibleVersion) || !*waitForRT {
			return nil, err
		}
		monitoring.Logf("Runtime not reachable, retrying: %v", err)
		if retry == nil {
			retry = clock.NewTicker(time.Second)
			defer retry.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-retry.C():
		}
	}
}

// runLoop drives one calibrator through the Continue/Replace/End
// protocol on the configured tick interval until it ends or ctx is
// cancelled.
func runLoop(ctx context.Context, env *cmdEnv, data *calib.Data, cal calib.Calibrator) error {
	res, err := cal.Init(data)
	if err != nil {
		return err
	}
	for res.Kind == calib.StepReplace {
		cal = res.Next
		if res, err = cal.Init(data); err != nil {
			return err
		}
	}
	if res.Kind == calib.StepEnd {
		return nil
	}

	tick := env.cfg.GetTickInterval()
	simRT, isSim := data.System.(*sim.Runtime)

	ticker := env.clock.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		if isSim {
			simRT.Advance(xrt.Time(tick.Nanoseconds()))
		}
		if err := data.Refresh(); err != nil {
			return err
		}

		res, err := cal.Step(data)
		if err != nil {
			return err
		}
		for res.Kind == calib.StepReplace {
			cal = res.Next
			if res, err = cal.Init(data); err != nil {
				return err
			}
		}
		if res.Kind == calib.StepEnd {
			return nil
		}
	}
}
