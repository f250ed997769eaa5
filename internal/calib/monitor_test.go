package calib

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/timeutil"
	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
	"github.com/banshee-data/spacecal/internal/xrt/sim"
)

func captureLog(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	monitoring.SetLogger(func(format string, v ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", v...)
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return &buf
}

func TestMonitorLogsThrottled(t *testing.T) {
	buf := captureLog(t)

	rt := sim.New()
	origin := rt.AddOrigin("native")
	rt.AddDevice("HMD-1", "Head", origin, stationary(transform.Transform{
		Basis:  transform.IdentityMat3(),
		Origin: transform.Vec3{Y: 1.6},
	}))

	data, err := NewData(rt)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	clock := timeutil.NewMockClock(testBaseTime())
	mon := NewMonitor(clock, nil)
	if _, err := mon.Init(data); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// lastLog zero value is far in the past, so the first step logs.
	if _, err := mon.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := strings.Count(buf.String(), "HMD-1"); got != 1 {
		t.Fatalf("device logged %d times after first step, want 1", got)
	}

	// Within the throttle window nothing new is emitted.
	clock.Advance(200 * time.Millisecond)
	if _, err := mon.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := strings.Count(buf.String(), "HMD-1"); got != 1 {
		t.Fatalf("device logged %d times inside throttle window, want 1", got)
	}

	clock.Advance(time.Second)
	if _, err := mon.Step(data); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := strings.Count(buf.String(), "HMD-1"); got != 2 {
		t.Fatalf("device logged %d times after throttle window, want 2", got)
	}
	if !strings.Contains(buf.String(), "native") {
		t.Error("origin name missing from monitor output")
	}
}

func TestMonitorReportsUntrackedDevice(t *testing.T) {
	buf := captureLog(t)

	rt := sim.New()
	origin := rt.AddOrigin("native")
	rt.AddDevice("LHR-77", "Tracker", origin, func(xrt.Time) (transform.Transform, bool) {
		return transform.Transform{}, false
	})

	data, err := NewData(rt)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	mon := NewMonitor(timeutil.NewMockClock(testBaseTime()), nil)
	res, err := mon.Step(data)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Kind != StepContinue {
		t.Fatalf("Step kind = %v, want StepContinue", res.Kind)
	}
	if !strings.Contains(buf.String(), "not tracking") {
		t.Errorf("expected untracked notice, got %q", buf.String())
	}
}
