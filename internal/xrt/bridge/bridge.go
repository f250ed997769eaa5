// Package bridge connects to the runtime bridge daemon over a
// JSON-over-WebSocket link and exposes it as an xrt.System.
//
// The protocol is strict request/response: every request carries a
// monotonically increasing id and the daemon answers each id exactly
// once, in order. A version handshake runs at connect time so a stale
// daemon fails fast instead of misbehaving mid-calibration.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/spacecal/internal/transform"
	"github.com/banshee-data/spacecal/internal/xrt"
)

// ProtocolVersion is the bridge protocol this client speaks.
const ProtocolVersion = 1

var (
	// ErrRuntimeUnavailable means the daemon could not be reached at
	// all. Callers use this to pick the "runtime not running" exit path.
	ErrRuntimeUnavailable = errors.New("runtime bridge unavailable")

	// ErrIncompatibleVersion means the daemon answered the handshake
	// with a protocol version this client does not speak.
	ErrIncompatibleVersion = errors.New("incompatible bridge protocol version")
)

type request struct {
	ID     uint64      `json:"id"`
	Op     string      `json:"op"`
	Params interface{} `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Client is a connected bridge session implementing xrt.System.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64

	devices []xrt.Device
	origins []xrt.TrackingOrigin
}

// Dial connects to the bridge daemon at url (ws:// or wss://), performs
// the version handshake and enumerates devices and tracking origins.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	c := &Client{conn: conn}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.enumerate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enumerate failed: %w", err)
	}
	return c, nil
}

// call sends one request and decodes the matching response into result.
// The link is strictly serial, so the lock covers the full round trip.
func (c *Client) call(op string, params interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := request{ID: c.nextID, Op: op, Params: params}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%s: write: %w", op, err)
	}

	var resp response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("%s: read: %w", op, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("%s: response id %d does not match request id %d", op, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: %s", op, resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", op, err)
		}
	}
	return nil
}

func (c *Client) handshake() error {
	var got struct {
		Version int `json:"version"`
	}
	err := c.call("hello", struct {
		Version int `json:"version"`
	}{ProtocolVersion}, &got)
	if err != nil {
		return err
	}
	if got.Version != ProtocolVersion {
		return fmt.Errorf("%w: daemon speaks %d, client speaks %d",
			ErrIncompatibleVersion, got.Version, ProtocolVersion)
	}
	return nil
}

type wireDevice struct {
	Name             string `json:"name"`
	Serial           string `json:"serial"`
	Index            uint32 `json:"index"`
	TrackingOriginID uint32 `json:"tracking_origin_id"`
}

type wireOrigin struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

func (c *Client) enumerate() error {
	var got struct {
		Devices []wireDevice `json:"devices"`
		Origins []wireOrigin `json:"origins"`
	}
	if err := c.call("enumerate", nil, &got); err != nil {
		return err
	}

	c.devices = c.devices[:0]
	for _, d := range got.Devices {
		c.devices = append(c.devices, xrt.Device{
			Name:             d.Name,
			Serial:           d.Serial,
			Index:            d.Index,
			TrackingOriginID: d.TrackingOriginID,
			Space:            &space{c: c, ref: fmt.Sprintf("device/%d", d.Index)},
		})
	}
	c.origins = c.origins[:0]
	for _, o := range got.Origins {
		c.origins = append(c.origins, &origin{c: c, id: o.ID, name: o.Name})
	}
	return nil
}

// Devices returns the devices enumerated at connect time.
func (c *Client) Devices() []xrt.Device { return c.devices }

// TrackingOrigins returns the tracking origins enumerated at connect time.
func (c *Client) TrackingOrigins() []xrt.TrackingOrigin { return c.origins }

// ReferenceSpace returns a handle for the given reference space kind.
func (c *Client) ReferenceSpace(kind xrt.RefSpaceKind) xrt.Space {
	return &space{c: c, ref: refName(kind)}
}

func refName(kind xrt.RefSpaceKind) string {
	switch kind {
	case xrt.RefStage:
		return "ref/stage"
	case xrt.RefLocal:
		return "ref/local"
	case xrt.RefView:
		return "ref/view"
	}
	return fmt.Sprintf("ref/%s", kind)
}

// ReferenceSpaceOffset returns the runtime's offset for a reference space.
func (c *Client) ReferenceSpaceOffset(kind xrt.RefSpaceKind) (transform.Transform, error) {
	var got xrt.Pose
	err := c.call("get_ref_offset", struct {
		Space string `json:"space"`
	}{refName(kind)}, &got)
	if err != nil {
		return transform.Transform{}, err
	}
	return got.Transform(), nil
}

// SetReferenceSpaceOffset updates the runtime's offset for a reference space.
func (c *Client) SetReferenceSpaceOffset(kind xrt.RefSpaceKind, t transform.Transform) error {
	return c.call("set_ref_offset", struct {
		Space string   `json:"space"`
		Pose  xrt.Pose `json:"pose"`
	}{refName(kind), xrt.PoseFromTransform(t)}, nil)
}

// HandTracker returns a tracker for the given hand, or an error if the
// runtime lacks hand tracking.
func (c *Client) HandTracker(hand xrt.Hand) (xrt.HandTracker, error) {
	var got struct {
		Supported bool `json:"supported"`
	}
	if err := c.call("hand_supported", struct {
		Hand string `json:"hand"`
	}{string(hand)}, &got); err != nil {
		return nil, err
	}
	if !got.Supported {
		return nil, fmt.Errorf("hand tracking not supported for %s hand", hand)
	}
	return &handTracker{c: c, hand: hand}, nil
}

// Now returns the runtime's current time.
func (c *Client) Now() (xrt.Time, error) {
	var got struct {
		Now int64 `json:"now"`
	}
	if err := c.call("now", nil, &got); err != nil {
		return 0, err
	}
	return xrt.Time(got.Now), nil
}

// Close shuts down the link.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

var _ xrt.System = (*Client)(nil)

// space is a remote space handle addressed by its ref string.
type space struct {
	c   *Client
	ref string
}

type locateParams struct {
	Space string   `json:"space"`
	Base  string   `json:"base"`
	At    xrt.Time `json:"at"`
}

type wireLocation struct {
	Flags uint32   `json:"flags"`
	Pose  xrt.Pose `json:"pose"`
}

type wireVelocity struct {
	Flags   uint32         `json:"flags"`
	Linear  transform.Vec3 `json:"linear"`
	Angular transform.Vec3 `json:"angular"`
}

func baseRef(base xrt.Space) (string, error) {
	b, ok := base.(*space)
	if !ok {
		return "", fmt.Errorf("base space %T does not belong to this bridge", base)
	}
	return b.ref, nil
}

func (s *space) Locate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, error) {
	ref, err := baseRef(base)
	if err != nil {
		return xrt.SpaceLocation{}, err
	}
	var got wireLocation
	if err := s.c.call("locate", locateParams{s.ref, ref, at}, &got); err != nil {
		return xrt.SpaceLocation{}, err
	}
	return xrt.SpaceLocation{Flags: xrt.LocationFlags(got.Flags), Pose: got.Pose}, nil
}

func (s *space) Relate(base xrt.Space, at xrt.Time) (xrt.SpaceLocation, xrt.SpaceVelocity, error) {
	ref, err := baseRef(base)
	if err != nil {
		return xrt.SpaceLocation{}, xrt.SpaceVelocity{}, err
	}
	var got struct {
		Location wireLocation `json:"location"`
		Velocity wireVelocity `json:"velocity"`
	}
	if err := s.c.call("relate", locateParams{s.ref, ref, at}, &got); err != nil {
		return xrt.SpaceLocation{}, xrt.SpaceVelocity{}, err
	}
	loc := xrt.SpaceLocation{Flags: xrt.LocationFlags(got.Location.Flags), Pose: got.Location.Pose}
	vel := xrt.SpaceVelocity{
		Flags:   xrt.VelocityFlags(got.Velocity.Flags),
		Linear:  got.Velocity.Linear,
		Angular: got.Velocity.Angular,
	}
	return loc, vel, nil
}

var _ xrt.Space = (*space)(nil)

// origin is a remote tracking origin handle.
type origin struct {
	c    *Client
	id   uint32
	name string
}

func (o *origin) ID() uint32   { return o.id }
func (o *origin) Name() string { return o.name }

func (o *origin) GetOffset() (transform.Transform, error) {
	var got xrt.Pose
	err := o.c.call("get_origin_offset", struct {
		Origin uint32 `json:"origin"`
	}{o.id}, &got)
	if err != nil {
		return transform.Transform{}, err
	}
	return got.Transform(), nil
}

func (o *origin) SetOffset(t transform.Transform) error {
	return o.c.call("set_origin_offset", struct {
		Origin uint32   `json:"origin"`
		Pose   xrt.Pose `json:"pose"`
	}{o.id, xrt.PoseFromTransform(t)}, nil)
}

var _ xrt.TrackingOrigin = (*origin)(nil)

// handTracker queries palm joints for one hand.
type handTracker struct {
	c    *Client
	hand xrt.Hand
}

func (h *handTracker) PalmLocation(base xrt.Space, at xrt.Time) (xrt.JointLocation, error) {
	ref, err := baseRef(base)
	if err != nil {
		return xrt.JointLocation{}, err
	}
	var got struct {
		Flags  uint32   `json:"flags"`
		Pose   xrt.Pose `json:"pose"`
		Radius float64  `json:"radius"`
	}
	err = h.c.call("palm", struct {
		Hand string   `json:"hand"`
		Base string   `json:"base"`
		At   xrt.Time `json:"at"`
	}{string(h.hand), ref, at}, &got)
	if err != nil {
		return xrt.JointLocation{}, err
	}
	return xrt.JointLocation{
		Flags:  xrt.LocationFlags(got.Flags),
		Pose:   got.Pose,
		Radius: got.Radius,
	}, nil
}

var _ xrt.HandTracker = (*handTracker)(nil)
