package yeelight

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

var locationPattern = regexp.MustCompile(`yeelight://(.*)`)
var errorMessagePattern = regexp.MustCompile(`"message":"(.*)"`)

// requiredHeaders lists every advertisement header the device-record
// builder must see before it will construct a Device.
var requiredHeaders = []string{
	"id", "model", "fw_ver", "power", "support", "bright",
	"color_mode", "ct", "rgb", "hue", "sat", "name", "Location",
}

// Device is a parsed bulb advertisement plus the mutable shadow of its
// last-known state and (once opened) its command session. Device identity
// is its ID; two Devices with the same ID are considered the same bulb.
type Device struct {
	// Immutable identity, filled in at construction.
	Location *net.TCPAddr
	ID       string
	Model    string
	FwVer    uint8
	Support  map[string]struct{}
	Name     string

	mu        sync.Mutex
	Power     PowerStatus
	Bright    uint8
	ColorMode ColorMode
	CT        uint16
	RGB       Rgb
	Hue       uint16
	Sat       uint8

	sess *session

	latencyMu sync.Mutex
	latency   map[string]*LatencyStats
}

// session is a long-lived TCP connection wrapped as two handles — a
// buffered read half and a buffered write half — sharing one underlying
// socket, following the teacher's single-net.Conn client/server split.
type session struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// newDeviceFromHeaders builds a Device from an advertisement's headers.
// headers is indifferent to whether its values were borrowed from a packet
// buffer or supplied as test literals — both are plain strings in Go.
func newDeviceFromHeaders(headers map[string]string) (*Device, error) {
	for _, field := range requiredHeaders {
		if _, ok := headers[field]; !ok {
			return nil, &FieldNotFoundError{Field: field}
		}
	}

	power, err := ParsePowerStatus(headers["power"])
	if err != nil {
		return nil, err
	}
	colorMode, err := ParseColorMode(headers["color_mode"])
	if err != nil {
		return nil, err
	}
	rgb, err := ParseRGB(headers["rgb"])
	if err != nil {
		return nil, err
	}

	fwVer, err := parseUintField("fw_ver", headers["fw_ver"], 8)
	if err != nil {
		return nil, err
	}
	bright, err := parseUintField("bright", headers["bright"], 8)
	if err != nil {
		return nil, err
	}
	ct, err := parseUintField("ct", headers["ct"], 16)
	if err != nil {
		return nil, err
	}
	hue, err := parseUintField("hue", headers["hue"], 16)
	if err != nil {
		return nil, err
	}
	sat, err := parseUintField("sat", headers["sat"], 8)
	if err != nil {
		return nil, err
	}

	addr, err := parseLocation(headers["Location"])
	if err != nil {
		return nil, err
	}

	support := make(map[string]struct{})
	for _, m := range strings.Fields(headers["support"]) {
		support[m] = struct{}{}
	}

	return &Device{
		Location:  addr,
		ID:        headers["id"],
		Model:     headers["model"],
		FwVer:     uint8(fwVer),
		Support:   support,
		Name:      headers["name"],
		Power:     power,
		Bright:    uint8(bright),
		ColorMode: colorMode,
		CT:        uint16(ct),
		RGB:       rgb,
		Hue:       uint16(hue),
		Sat:       uint8(sat),
	}, nil
}

func parseUintField(field, s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, &ParseFieldError{Field: field, Err: err}
	}
	return v, nil
}

// parseLocation extracts and parses the yeelight://HOST:PORT location
// header into an IPv4 TCP address. Non-IPv4 locations are a parse failure.
func parseLocation(value string) (*net.TCPAddr, error) {
	m := locationPattern.FindStringSubmatch(value)
	if m == nil {
		return nil, &ParseFieldError{Field: "Location"}
	}
	addr, err := net.ResolveTCPAddr("tcp4", m[1])
	if err != nil {
		return nil, &ParseFieldError{Field: "Location", Err: err}
	}
	if addr.IP != nil && addr.IP.To4() == nil {
		return nil, &ParseFieldError{Field: "Location"}
	}
	return addr, nil
}

// Open establishes this device's TCP session. Subsequent calls are no-ops.
// The discovery client calls this once per device before exposing it to the
// caller; failure there aborts publication of the device.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp4", d.Location.String(), 3*time.Second)
	if err != nil {
		return &IoError{Err: err}
	}
	d.sess = &session{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
	return nil
}

// Close releases the device's TCP session, if open.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return nil
	}
	err := d.sess.conn.Close()
	d.sess = nil
	return err
}

// send dispatches req and blocks until the correlated reply line arrives,
// tolerating interleaved unsolicited "props" notifications. It must be
// called with d.mu held.
func (d *Device) send(req Req) error {
	if _, ok := d.Support[req.Method]; !ok {
		return &MethodNotSupportedError{Method: req.Method}
	}
	if d.sess == nil {
		return &IoError{Err: fmt.Errorf("session not open")}
	}

	line, err := req.MarshalLine()
	if err != nil {
		return &IoError{Err: err}
	}
	start := time.Now()

	if _, err := d.sess.w.Write(line); err != nil {
		return &IoError{Err: err}
	}
	if _, err := d.sess.w.WriteString("\r\n"); err != nil {
		return &IoError{Err: err}
	}
	if err := d.sess.w.Flush(); err != nil {
		return &IoError{Err: err}
	}

	idToken := strconv.Itoa(int(req.ID))

	var scratch strings.Builder
	for {
		reply, err := d.sess.r.ReadString('\n')
		if err != nil {
			return &IoError{Err: err}
		}
		scratch.WriteString(reply)
		if !strings.Contains(reply, idToken) {
			slog.Debug("yeelight: skipped unsolicited notification", "device", d.ID, "line", strings.TrimSpace(reply))
			continue
		}
		if strings.Contains(reply, "error") {
			msg := "unknown error"
			if m := errorMessagePattern.FindStringSubmatch(reply); m != nil {
				msg = m[1]
			}
			return &ChangeFailedError{Message: msg}
		}
		d.sampleLatency(req.Method, time.Since(start))
		return nil
	}
}

// SetCtAbx sets the bulb's color temperature in Kelvin, enforcing the
// observed-hardware range of 2700-6500K (narrower than the vendor's nominal
// 1700K floor; see DESIGN.md).
func (d *Device) SetCtAbx(kelvin uint16, t Transition) error {
	if kelvin < 2700 || kelvin > 6500 {
		return &InvalidValueError{Field: "ct", Value: kelvin}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("set_ct_abx", []any{kelvin, t.Text(), t.Value()})
	if err := d.send(req); err != nil {
		return err
	}
	d.CT = kelvin
	d.ColorMode = ColorModeColorTemperature
	return nil
}

// SetRGB sets the bulb's color.
func (d *Device) SetRGB(c Rgb, t Transition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("set_rgb", []any{c.Number(), t.Text(), t.Value()})
	if err := d.send(req); err != nil {
		return err
	}
	d.RGB = c
	d.ColorMode = ColorModeColor
	return nil
}

// SetBright sets the bulb's brightness, 1-100. Use SetPower(Off, ...) or
// Toggle to turn the bulb off; the protocol rejects a brightness of 0.
func (d *Device) SetBright(level uint8, t Transition) error {
	if level < 1 || level > 100 {
		return &InvalidValueError{Field: "bright", Value: level}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("set_bright", []any{level, t.Text(), t.Value()})
	if err := d.send(req); err != nil {
		return err
	}
	d.Bright = level
	return nil
}

// SetHSV sets hue (0-359) and saturation (0-100).
func (d *Device) SetHSV(hue uint16, sat uint8, t Transition) error {
	if hue > 359 {
		return &InvalidValueError{Field: "hue", Value: hue}
	}
	if sat > 100 {
		return &InvalidValueError{Field: "sat", Value: sat}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("set_hsv", []any{hue, sat, t.Text(), t.Value()})
	if err := d.send(req); err != nil {
		return err
	}
	d.Hue = hue
	d.Sat = sat
	d.ColorMode = ColorModeHsv
	return nil
}

// SetPower sets the bulb's power status.
func (d *Device) SetPower(p PowerStatus, t Transition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("set_power", []any{p.String(), t.Text(), t.Value()})
	if err := d.send(req); err != nil {
		return err
	}
	d.Power = p
	return nil
}

// Toggle flips the bulb's power status.
func (d *Device) Toggle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := NewReq("toggle", []any{})
	if err := d.send(req); err != nil {
		return err
	}
	d.Power = d.Power.Flip()
	return nil
}

func (d *Device) sampleLatency(method string, dur time.Duration) {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()
	if d.latency == nil {
		d.latency = make(map[string]*LatencyStats)
	}
	ls, ok := d.latency[method]
	if !ok {
		ls = NewLatencyStats(method)
		d.latency[method] = ls
	}
	ls.Sample(dur)
}

// Stats reports min/mean/max round-trip latency for each command method
// this device has been sent, for human consumption.
func (d *Device) Stats() string {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()

	s := make([]string, 0, len(d.latency))
	for _, v := range d.latency {
		s = append(s, v.String())
	}
	return strings.Join(s, "\n")
}

// String renders a compact identity summary.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) @ %s", d.ID, d.Model, d.Location)
}

// Dump renders the full shadow state for debugging, the way the teacher's
// Client.String() dumps its pending-transaction bookkeeping with spew.
func (d *Device) Dump() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return spew.Sprintf(`
Device(
  id:         %v
  model:      %v
  location:   %v
  power:      %v
  bright:     %v
  color_mode: %v
  ct:         %v
  rgb:        %v
  hue:        %v
  sat:        %v
  support:    %v
)
`,
		d.ID, d.Model, d.Location, d.Power, d.Bright, d.ColorMode,
		d.CT, d.RGB, d.Hue, d.Sat, d.Support,
	)
}
