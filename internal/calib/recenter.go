package calib

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/spacecal/internal/monitoring"
	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// heightMode selects how recenter treats the new reference height.
type heightMode int

const (
	heightNormal heightMode = iota
	heightKeep
	heightRelative
)

// Recenter is a single-shot adjustment: it takes the current head pose,
// keeps only its yaw, inverts it into a new reference-space offset and
// ends.
type Recenter struct {
	space  xrt.RefSpaceKind
	mode   heightMode
	height float64
	sink   StatusSink
}

// NewRecenter parses the target space ("stage" or "local") and optional
// height argument ("KEEP" or a relative eye height in meters).
func NewRecenter(space, height string, sink StatusSink) (*Recenter, error) {
	if sink == nil {
		sink = NopSink{}
	}
	var kind xrt.RefSpaceKind
	switch strings.ToLower(space) {
	case "stage":
		kind = xrt.RefStage
	case "local":
		kind = xrt.RefLocal
	default:
		return nil, fmt.Errorf("can only recenter spaces LOCAL and STAGE")
	}

	r := &Recenter{space: kind, sink: sink}
	if height != "" {
		if strings.EqualFold(height, "keep") {
			r.mode = heightKeep
		} else {
			h, err := strconv.ParseFloat(height, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid height %q: %w", height, err)
			}
			r.mode = heightRelative
			r.height = h
		}
	}
	return r, nil
}

// Init announces the mode.
func (r *Recenter) Init(*Data) (StepResult, error) {
	r.sink.SetMode("recenter", "Waiting for head pose.")
	return Continue(), nil
}

// Step recenters once the head pose is available.
func (r *Recenter) Step(data *Data) (StepResult, error) {
	space := data.System.ReferenceSpace(r.space)
	view := data.System.ReferenceSpace(xrt.RefView)

	loc, err := view.Locate(space, data.Now)
	if err != nil {
		return End(), fmt.Errorf("locate view: %w", err)
	}
	hmdPose, err := loc.Transform()
	if err != nil {
		r.sink.SetMode("recenter", "Device(s) not tracking.")
		return Continue(), nil
	}

	current, err := data.System.ReferenceSpaceOffset(r.space)
	if err != nil {
		return End(), fmt.Errorf("read reference offset: %w", err)
	}
	hmd := current.Mul(hmdPose)

	// Keep yaw only: project the forward vector and rebuild the basis
	// as a pure Y rotation.
	fwd := hmd.Basis.MulVec(transform.Vec3{Z: -1})
	yaw := math.Atan2(fwd.X, -fwd.Z)
	hmd.Basis = transform.RotationY(yaw)

	newReference := hmd.Inverse()
	switch r.mode {
	case heightKeep:
		newReference.Origin.Y = current.Origin.Y
	case heightRelative:
		newReference.Origin.Y = hmd.Origin.Y - r.height
	}

	monitoring.Logf("Enjoy your new %s space! The values are %s", r.space, newReference)

	if err := data.System.SetReferenceSpaceOffset(r.space, newReference); err != nil {
		return End(), fmt.Errorf("apply reference offset: %w", err)
	}
	return End(), nil
}
