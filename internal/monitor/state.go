// Package monitor exposes live calibration status over HTTP: a JSON
// status endpoint, an echarts deviation chart and a residual scatter
// plot.
package monitor

import (
	"sync"

	"github.com/banshee-data/spacecal/internal/calib"
	"github.com/banshee-data/spacecal/internal/transform"
)

// maxDeviationSamples bounds the deviation history ring.
const maxDeviationSamples = 2048

// State is a thread-safe snapshot of engine status. It implements
// calib.StatusSink and is written from the tick loop.
type State struct {
	mu sync.Mutex

	mode      string
	message   string
	collected int
	total     int

	deviations    []float64
	deviationTick int
	residuals     []transform.Vec3
}

// NewState returns an empty status snapshot.
func NewState() *State {
	return &State{mode: "idle"}
}

// SetMode records the current engine mode and a human-readable message.
func (s *State) SetMode(mode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.message = message
}

// SetProgress records sample collection progress.
func (s *State) SetProgress(collected, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected = collected
	s.total = total
}

// ObserveDeviation appends one per-tick deviation reading (metres).
func (s *State) ObserveDeviation(meters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviationTick++
	s.deviations = append(s.deviations, meters)
	if len(s.deviations) > maxDeviationSamples {
		s.deviations = s.deviations[len(s.deviations)-maxDeviationSamples:]
	}
}

// SetResiduals replaces the per-sample residual point cloud.
func (s *State) SetResiduals(points []transform.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residuals = append(s.residuals[:0], points...)
}

// Snapshot is the JSON shape served by /api/status.
type Snapshot struct {
	Mode           string  `json:"mode"`
	Message        string  `json:"message,omitempty"`
	Collected      int     `json:"collected"`
	Total          int     `json:"total"`
	DeviationCount int     `json:"deviation_count"`
	LastDeviation  float64 `json:"last_deviation_meters"`
	ResidualCount  int     `json:"residual_count"`
}

// Snapshot returns a copy of the current status.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Mode:           s.mode,
		Message:        s.message,
		Collected:      s.collected,
		Total:          s.total,
		DeviationCount: s.deviationTick,
		ResidualCount:  len(s.residuals),
	}
	if n := len(s.deviations); n > 0 {
		snap.LastDeviation = s.deviations[n-1]
	}
	return snap
}

// deviationSeries returns the deviation ring plus the tick index of its
// first element.
func (s *State) deviationSeries() ([]float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]float64(nil), s.deviations...)
	return out, s.deviationTick - len(out)
}

func (s *State) residualPoints() []transform.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transform.Vec3(nil), s.residuals...)
}

var _ calib.StatusSink = (*State)(nil)
