// Package sim provides a scripted in-process implementation of the xrt
// runtime boundary. It backs dev mode and the engine tests: devices
// follow caller-supplied motion scripts expressed in their tracking
// origin's local frame, while origin and reference-space offsets remain
// mutable exactly like the live runtime's.
package sim

import (
	"fmt"
	"sync"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// MotionScript produces a device pose in its origin's local frame at a
// given time. Returning ok=false marks the device untracked for that
// instant.
type MotionScript func(at xrt.Time) (pose transform.Transform, ok bool)

// VelocityScript produces a velocity sample for a device. A nil script
// reports zero velocity with both validity flags set.
type VelocityScript func(at xrt.Time) xrt.SpaceVelocity

// Origin is a simulated tracking origin with a mutable offset.
type Origin struct {
	id   uint32
	name string

	mu     sync.Mutex
	offset transform.Transform
}

// ID returns the origin's numeric id.
func (o *Origin) ID() uint32 { return o.id }

// Name returns the origin's display name.
func (o *Origin) Name() string { return o.name }

// GetOffset returns the current offset into the shared reference space.
func (o *Origin) GetOffset() (transform.Transform, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset, nil
}

// SetOffset replaces the offset. Immediately consistent.
func (o *Origin) SetOffset(t transform.Transform) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offset = t
	return nil
}

// Runtime is a simulated xrt.System.
type Runtime struct {
	mu      sync.Mutex
	now     xrt.Time
	origins []*Origin
	devices []xrt.Device
	scripts map[string]MotionScript
	vels    map[string]VelocityScript
	refs    map[xrt.RefSpaceKind]transform.Transform
	view    MotionScript
	palms   map[xrt.Hand]PalmScript
}

// PalmScript produces a palm joint location in the stage frame.
type PalmScript func(at xrt.Time) xrt.JointLocation

// New creates an empty simulated runtime.
func New() *Runtime {
	return &Runtime{
		scripts: make(map[string]MotionScript),
		vels:    make(map[string]VelocityScript),
		refs: map[xrt.RefSpaceKind]transform.Transform{
			xrt.RefStage: transform.Identity(),
			xrt.RefLocal: transform.Identity(),
		},
		palms: make(map[xrt.Hand]PalmScript),
	}
}

// AddOrigin registers a tracking origin starting at identity offset.
func (r *Runtime) AddOrigin(name string) *Origin {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := &Origin{id: uint32(len(r.origins)), name: name, offset: transform.Identity()}
	r.origins = append(r.origins, o)
	return o
}

// AddDevice registers a device belonging to origin, moving per script.
func (r *Runtime) AddDevice(serial, name string, origin *Origin, script MotionScript) xrt.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := xrt.Device{
		Name:             name,
		Serial:           serial,
		Index:            uint32(len(r.devices)),
		TrackingOriginID: origin.id,
		Space:            &deviceSpace{rt: r, serial: serial, origin: origin},
	}
	r.devices = append(r.devices, d)
	r.scripts[serial] = script
	return d
}

// SetVelocityScript attaches a velocity script to a device.
func (r *Runtime) SetVelocityScript(serial string, script VelocityScript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vels[serial] = script
}

// SetViewScript sets the head pose script (stage frame, pre-offset).
func (r *Runtime) SetViewScript(script MotionScript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = script
}

// SetPalmScript sets the palm joint script for a hand.
func (r *Runtime) SetPalmScript(hand xrt.Hand, script PalmScript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.palms[hand] = script
}

// SetNow moves the simulated clock.
func (r *Runtime) SetNow(t xrt.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = t
}

// Advance moves the simulated clock forward by d nanoseconds and returns
// the new time.
func (r *Runtime) Advance(d xrt.Time) xrt.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now += d
	return r.now
}

// Devices returns the enumerated devices.
func (r *Runtime) Devices() []xrt.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]xrt.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// TrackingOrigins returns the enumerated tracking origins.
func (r *Runtime) TrackingOrigins() []xrt.TrackingOrigin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]xrt.TrackingOrigin, len(r.origins))
	for i, o := range r.origins {
		out[i] = o
	}
	return out
}

// ReferenceSpace returns a handle for the requested reference space.
func (r *Runtime) ReferenceSpace(kind xrt.RefSpaceKind) xrt.Space {
	return &refSpace{rt: r, kind: kind}
}

// ReferenceSpaceOffset returns the current offset for a reference space.
func (r *Runtime) ReferenceSpaceOffset(kind xrt.RefSpaceKind) (transform.Transform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, ok := r.refs[kind]
	if !ok {
		return transform.Transform{}, fmt.Errorf("no offset for reference space %q", kind)
	}
	return off, nil
}

// SetReferenceSpaceOffset replaces a reference space offset.
func (r *Runtime) SetReferenceSpaceOffset(kind xrt.RefSpaceKind, t transform.Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refs[kind]; !ok {
		return fmt.Errorf("no offset for reference space %q", kind)
	}
	r.refs[kind] = t
	return nil
}

// HandTracker returns the simulated hand tracker for hand.
func (r *Runtime) HandTracker(hand xrt.Hand) (xrt.HandTracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.palms[hand]; !ok {
		return nil, fmt.Errorf("no palm script for hand %q", hand)
	}
	return &handTracker{rt: r, hand: hand}, nil
}

// Now returns the simulated timestamp.
func (r *Runtime) Now() (xrt.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now, nil
}

// Close is a no-op for the simulated runtime.
func (r *Runtime) Close() error { return nil }

// stagePose returns a device's pose in the stage frame: origin offset
// composed with the scripted local pose.
func (r *Runtime) stagePose(serial string, origin *Origin, at xrt.Time) (transform.Transform, bool) {
	r.mu.Lock()
	script := r.scripts[serial]
	r.mu.Unlock()
	if script == nil {
		return transform.Transform{}, false
	}
	local, ok := script(at)
	if !ok {
		return transform.Transform{}, false
	}
	off, _ := origin.GetOffset()
	return off.Mul(local), true
}

type deviceSpace struct {
	rt     *Runtime
	serial string
	origin *Origin
}

func (s *deviceSpace) Locate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, error) {
	pose, ok := s.rt.stagePose(s.serial, s.origin, at)
	if !ok {
		return xrt.SpaceLocation{}, nil
	}
	rel, err := inBase(base, at, pose)
	if err != nil {
		return xrt.SpaceLocation{}, err
	}
	return xrt.SpaceLocation{Flags: xrt.LocationAll, Pose: xrt.PoseFromTransform(rel)}, nil
}

func (s *deviceSpace) Relate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, xrt.SpaceVelocity, error) {
	loc, err := s.Locate(base, at)
	if err != nil {
		return xrt.SpaceLocation{}, xrt.SpaceVelocity{}, err
	}
	s.rt.mu.Lock()
	vs := s.rt.vels[s.serial]
	s.rt.mu.Unlock()
	vel := xrt.SpaceVelocity{Flags: xrt.LinearValid | xrt.AngularValid}
	if vs != nil {
		vel = vs(at)
	}
	return loc, vel, nil
}

type refSpace struct {
	rt   *Runtime
	kind xrt.RefSpaceKind
}

func (s *refSpace) pose(at xrt.Time) (transform.Transform, bool) {
	if s.kind == xrt.RefView {
		s.rt.mu.Lock()
		script := s.rt.view
		s.rt.mu.Unlock()
		if script == nil {
			return transform.Transform{}, false
		}
		return script(at)
	}
	return transform.Identity(), true
}

func (s *refSpace) Locate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, error) {
	pose, ok := s.pose(at)
	if !ok {
		return xrt.SpaceLocation{}, nil
	}
	rel, err := inBase(base, at, pose)
	if err != nil {
		return xrt.SpaceLocation{}, err
	}
	return xrt.SpaceLocation{Flags: xrt.LocationAll, Pose: xrt.PoseFromTransform(rel)}, nil
}

func (s *refSpace) Relate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, xrt.SpaceVelocity, error) {
	loc, err := s.Locate(base, at)
	return loc, xrt.SpaceVelocity{Flags: xrt.LinearValid | xrt.AngularValid}, err
}

// inBase re-expresses a stage-frame pose in the base space. Only
// reference-space bases are meaningful in the simulation; stage and
// local share a frame here.
func inBase(base xrt.Space, at xrt.Time, stagePose transform.Transform) (transform.Transform, error) {
	rs, ok := base.(*refSpace)
	if !ok {
		return transform.Transform{}, fmt.Errorf("sim: unsupported base space %T", base)
	}
	basePose, tracked := rs.pose(at)
	if !tracked {
		return transform.Transform{}, xrt.ErrNotTracked
	}
	return basePose.Inverse().Mul(stagePose), nil
}

type handTracker struct {
	rt   *Runtime
	hand xrt.Hand
}

func (h *handTracker) PalmLocation(base xrt.Space, at xrt.Time) (xrt.JointLocation, error) {
	h.rt.mu.Lock()
	script := h.rt.palms[h.hand]
	h.rt.mu.Unlock()
	if script == nil {
		return xrt.JointLocation{}, fmt.Errorf("no palm script for hand %q", h.hand)
	}
	return script(at), nil
}
