package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/spacecal/internal/calib"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetSampleCount(); got != calib.DefaultSampleCount {
		t.Errorf("GetSampleCount() = %d, want %d", got, calib.DefaultSampleCount)
	}
	if got := cfg.GetLerpFactor(); got != calib.DefaultLerpFactor {
		t.Errorf("GetLerpFactor() = %f, want %f", got, calib.DefaultLerpFactor)
	}
	if got := cfg.GetAnomalyResetAfter(); got != calib.DefaultAnomalyResetAfter {
		t.Errorf("GetAnomalyResetAfter() = %v, want %v", got, calib.DefaultAnomalyResetAfter)
	}
	if got := cfg.GetTickInterval(); got != 40*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 40ms", got)
	}
}

func TestPartialConfigOverrides(t *testing.T) {
	path := writeConfig(t, `{"sample_count": 200, "lerp_factor": 0.05, "tick_interval": "20ms"}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetSampleCount(); got != 200 {
		t.Errorf("GetSampleCount() = %d, want 200", got)
	}
	if got := cfg.GetLerpFactor(); got != 0.05 {
		t.Errorf("GetLerpFactor() = %f, want 0.05", got)
	}
	if got := cfg.GetTickInterval(); got != 20*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 20ms", got)
	}

	// Fields not in the file fall back to the defaults.
	if got := cfg.GetLinearSpeedLimit(); got != calib.DefaultLinearSpeedLimit {
		t.Errorf("GetLinearSpeedLimit() = %f, want default %f", got, calib.DefaultLinearSpeedLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  TuningConfig
	}{
		{"sample count too small", TuningConfig{SampleCount: ptrInt(1)}},
		{"lerp factor zero", TuningConfig{LerpFactor: ptrFloat64(0)}},
		{"lerp factor above one", TuningConfig{LerpFactor: ptrFloat64(1.5)}},
		{"negative speed limit", TuningConfig{LinearSpeedLimit: ptrFloat64(-1)}},
		{"bad duration", TuningConfig{AnomalyResetAfter: ptrString("five seconds")}},
		{"negative cooldown", TuningConfig{JumpCooldownTicks: ptrInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	if _, err := LoadTuningConfig("tuning.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestContinuousConfigMapping(t *testing.T) {
	cfg := TuningConfig{
		LerpFactor:        ptrFloat64(0.1),
		AnomalyResetAfter: ptrString("2s"),
	}
	want := calib.ContinuousConfig{
		LerpFactor:          0.1,
		LinearSpeedLimit:    calib.DefaultLinearSpeedLimit,
		AngularSpeedLimit:   calib.DefaultAngularSpeedLimit,
		AnomalyDistance:     calib.DefaultAnomalyDistance,
		AnomalyResetAfter:   2 * time.Second,
		JumpDistanceSquared: calib.DefaultJumpDistanceSquared,
		JumpCooldownTicks:   calib.DefaultJumpCooldownTicks,
	}
	if diff := cmp.Diff(want, cfg.ContinuousConfig()); diff != "" {
		t.Errorf("ContinuousConfig() mismatch (-want +got):\n%s", diff)
	}
}
