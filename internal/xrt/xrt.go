// Package xrt defines the narrow capability boundary between the
// calibration engine and the XR runtime: pose spaces, tracking origins,
// device enumeration and reference-space offsets. The engine only ever
// talks to these interfaces; concrete implementations live in the
// bridge (live runtime) and sim (synthetic) subpackages.
package xrt

import (
	"errors"

	"github.com/banshee-data/spacecal/internal/transform"
)

// Time is a runtime timestamp in nanoseconds. Timestamps are only ever
// compared and forwarded; the engine does not convert them to wall time.
type Time int64

// ErrNotTracked is returned when a pose query cannot produce a fully
// valid, tracked pose. It is always recoverable: callers skip the tick.
var ErrNotTracked = errors.New("device not tracked")

// RefSpaceKind selects one of the runtime's well-known reference spaces.
type RefSpaceKind string

const (
	RefStage RefSpaceKind = "stage"
	RefLocal RefSpaceKind = "local"
	RefView  RefSpaceKind = "view"
)

// Hand selects a hand tracker.
type Hand string

const (
	HandLeft  Hand = "left"
	HandRight Hand = "right"
)

// Space is a locatable pose space (a device space or reference space).
type Space interface {
	// Locate returns the pose of this space in base at the given time.
	Locate(base Space, at Time) (SpaceLocation, error)

	// Relate returns pose and velocity of this space in base. It always
	// succeeds structurally; validity travels in the flags.
	Relate(base Space, at Time) (SpaceLocation, SpaceVelocity, error)
}

// TrackingOrigin is one independently tracked coordinate frame with an
// adjustable offset into the shared reference space. SetOffset must be
// immediately consistent: a GetOffset after SetOffset observes the new
// value.
type TrackingOrigin interface {
	ID() uint32
	Name() string
	GetOffset() (transform.Transform, error)
	SetOffset(t transform.Transform) error
}

// Device is one trackable device discovered at session start. Read-only
// for the lifetime of a calibration run.
type Device struct {
	Name             string
	Serial           string
	Index            uint32
	TrackingOriginID uint32
	Space            Space
}

// JointLocation is a located hand joint with its collision radius.
type JointLocation struct {
	Flags  LocationFlags
	Pose   Pose
	Radius float64
}

// HandTracker queries hand joints. Only the palm is needed here.
type HandTracker interface {
	PalmLocation(base Space, at Time) (JointLocation, error)
}

// System is a connected runtime session. Device and origin enumeration
// happens once at connect time; a reconnect re-enumerates.
type System interface {
	Devices() []Device
	TrackingOrigins() []TrackingOrigin
	ReferenceSpace(kind RefSpaceKind) Space
	ReferenceSpaceOffset(kind RefSpaceKind) (transform.Transform, error)
	SetReferenceSpaceOffset(kind RefSpaceKind, t transform.Transform) error
	HandTracker(hand Hand) (HandTracker, error)
	Now() (Time, error)
	Close() error
}
