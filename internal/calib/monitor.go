package calib

import (
	"time"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
)

// monitorLogInterval throttles the monitor's log output; the sink is
// still fed every tick.
const monitorLogInterval = time.Second

// Monitor continuously reports tracking origins, their devices and the
// devices' motion. It never ends on its own.
type Monitor struct {
	clock   timeutil.Clock
	sink    StatusSink
	lastLog time.Time
}

// NewMonitor creates a monitor. sink and clock may be nil.
func NewMonitor(clock timeutil.Clock, sink StatusSink) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Monitor{clock: clock, sink: sink}
}

// Init announces the mode.
func (m *Monitor) Init(*Data) (StepResult, error) {
	m.sink.SetMode("monitor", "Monitoring tracking origins.")
	return Continue(), nil
}

// Step renders one status pass.
func (m *Monitor) Step(data *Data) (StepResult, error) {
	now := m.clock.Now()
	logged := now.Sub(m.lastLog) >= monitorLogInterval
	if logged {
		m.lastLog = now
	}

	for _, origin := range data.Origins {
		offset, err := origin.GetOffset()
		if err != nil {
			return End(), err
		}
		if logged {
			monitoring.Logf("[%d] %s %s", origin.ID(), origin.Name(), offset)
		}

		for _, dev := range data.Devices {
			if dev.TrackingOriginID != origin.ID() {
				continue
			}
			loc, vel, err := dev.Space.Relate(data.Stage, data.Now)
			if err != nil {
				return End(), err
			}
			pose, perr := loc.Transform()
			if logged {
				if perr != nil {
					monitoring.Logf("  [%d] %q (%s): not tracking", dev.Index, dev.Serial, dev.Name)
					continue
				}
				monitoring.Logf("  [%d] %q (%s): %s speed=%.2fm/s spin=%.2frad/s",
					dev.Index, dev.Serial, dev.Name, pose,
					vel.EffectiveLinear().Norm(), vel.EffectiveAngular().Norm())
			}
		}
	}

	return Continue(), nil
}
