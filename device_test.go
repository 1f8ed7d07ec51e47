package yeelight

import (
	"bufio"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"
)

func validHeaders() map[string]string {
	return map[string]string{
		"id":         "0x0000000005f3c1a2",
		"model":      "color",
		"fw_ver":     "18",
		"power":      "on",
		"support":    "set_power set_bright set_ct_abx set_rgb set_hsv toggle",
		"bright":     "100",
		"color_mode": "1",
		"ct":         "4000",
		"rgb":        "16711680",
		"hue":        "0",
		"sat":        "0",
		"name":       "",
		"Location":   "yeelight://192.168.1.2:55443",
	}
}

func TestNewDeviceFromHeaders(t *testing.T) {
	d, err := newDeviceFromHeaders(validHeaders())
	if err != nil {
		t.Fatalf("newDeviceFromHeaders() error: %v", err)
	}
	if d.ID != "0x0000000005f3c1a2" || d.Model != "color" || d.FwVer != 18 {
		t.Fatalf("unexpected device: %+v", d)
	}
	if _, ok := d.Support["set_power"]; !ok {
		t.Fatalf("support set missing set_power: %v", d.Support)
	}
	if d.Location.Port != 55443 {
		t.Fatalf("location port = %d, want 55443", d.Location.Port)
	}
}

func TestNewDeviceFromHeadersMissingField(t *testing.T) {
	for _, field := range requiredHeaders {
		headers := validHeaders()
		delete(headers, field)
		_, err := newDeviceFromHeaders(headers)
		if err == nil {
			t.Fatalf("missing %q: expected error", field)
		}
		fnf, ok := err.(*FieldNotFoundError)
		if !ok {
			t.Fatalf("missing %q: error = %v (%T), want *FieldNotFoundError", field, err, err)
		}
		if fnf.Field != field {
			t.Fatalf("missing %q: FieldNotFoundError.Field = %q", field, fnf.Field)
		}
	}
}

func TestNewDeviceFromHeadersNonIPv4Location(t *testing.T) {
	headers := validHeaders()
	headers["Location"] = "yeelight://[::1]:55443"
	if _, err := newDeviceFromHeaders(headers); err == nil {
		t.Fatal("IPv6 location should be rejected")
	}
}

// fakeBulb starts a TCP server that accepts a single connection and hands
// each received line to respond for scripting a reply (or silence).
func fakeBulb(t *testing.T, respond func(line string) string) (*net.TCPListener, int) {
	t.Helper()
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to start fake bulb: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if reply := respond(line); reply != "" {
				conn.Write([]byte(reply))
			}
		}
	}()
	return ln, ln.Addr().(*net.TCPAddr).Port
}

var idPattern = regexp.MustCompile(`"id":(\d+)`)

func openTestDevice(t *testing.T, port int, support ...string) *Device {
	t.Helper()
	supportSet := make(map[string]struct{})
	for _, m := range support {
		supportSet[m] = struct{}{}
	}
	d := &Device{
		ID:      "test",
		Model:   "color",
		Support: supportSet,
		Location: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return d
}

func TestCapabilityGateBlocksUnsupportedMethod(t *testing.T) {
	ln, port := fakeBulb(t, func(string) string { return "" })
	defer ln.Close()

	d := openTestDevice(t, port) // no supported methods
	defer d.Close()

	err := d.SetBright(50, Sudden())
	if err == nil {
		t.Fatal("expected MethodNotSupportedError")
	}
	if _, ok := err.(*MethodNotSupportedError); !ok {
		t.Fatalf("error = %v (%T), want *MethodNotSupportedError", err, err)
	}
	if d.Bright != 0 {
		t.Fatalf("shadow Bright mutated to %d despite failure", d.Bright)
	}
}

func TestSetCtAbxOutOfRange(t *testing.T) {
	ln, port := fakeBulb(t, func(string) string { return "" })
	defer ln.Close()

	d := openTestDevice(t, port, "set_ct_abx")
	defer d.Close()

	err := d.SetCtAbx(2699, Sudden())
	if err == nil {
		t.Fatal("expected InvalidValueError")
	}
	ive, ok := err.(*InvalidValueError)
	if !ok {
		t.Fatalf("error = %v (%T), want *InvalidValueError", err, err)
	}
	if ive.Field != "ct" {
		t.Fatalf("InvalidValueError.Field = %q, want %q", ive.Field, "ct")
	}
	if d.CT != 0 {
		t.Fatalf("shadow CT mutated to %d despite failure", d.CT)
	}
}

func TestErrorReplyPropagation(t *testing.T) {
	ln, port := fakeBulb(t, func(line string) string {
		m := idPattern.FindStringSubmatch(line)
		if m == nil {
			return ""
		}
		return `{"id":` + m[1] + `,"error":{"code":-1,"message":"client quota exceeded"}}` + "\r\n"
	})
	defer ln.Close()

	d := openTestDevice(t, port, "set_bright")
	defer d.Close()

	err := d.SetBright(50, Sudden())
	if err == nil {
		t.Fatal("expected ChangeFailedError")
	}
	cfe, ok := err.(*ChangeFailedError)
	if !ok {
		t.Fatalf("error = %v (%T), want *ChangeFailedError", err, err)
	}
	if !strings.Contains(cfe.Error(), "client quota exceeded") {
		t.Fatalf("error message = %q, missing expected text", cfe.Error())
	}
	if d.Bright != 0 {
		t.Fatalf("shadow Bright mutated to %d despite failure", d.Bright)
	}
}

func TestSuccessfulCommandUpdatesShadow(t *testing.T) {
	ln, port := fakeBulb(t, func(line string) string {
		m := idPattern.FindStringSubmatch(line)
		if m == nil {
			return ""
		}
		return `{"id":` + m[1] + `,"result":["ok"]}` + "\r\n"
	})
	defer ln.Close()

	d := openTestDevice(t, port, "set_ct_abx")
	defer d.Close()

	if err := d.SetCtAbx(2800, Sudden()); err != nil {
		t.Fatalf("SetCtAbx() error: %v", err)
	}
	if d.CT != 2800 {
		t.Fatalf("shadow CT = %d, want 2800", d.CT)
	}
	if d.ColorMode != ColorModeColorTemperature {
		t.Fatalf("shadow ColorMode = %v, want ColorModeColorTemperature", d.ColorMode)
	}
}

func TestNotificationInterleaving(t *testing.T) {
	first := true
	ln, port := fakeBulb(t, func(line string) string {
		m := idPattern.FindStringSubmatch(line)
		if m == nil {
			return ""
		}
		if first {
			first = false
			// Unsolicited notification with no id, followed by the
			// correlated reply on the next line.
			return `{"method":"props","params":{"power":"on"}}` + "\r\n" +
				`{"id":` + m[1] + `,"result":["ok"]}` + "\r\n"
		}
		return `{"id":` + m[1] + `,"result":["ok"]}` + "\r\n"
	})
	defer ln.Close()

	d := openTestDevice(t, port, "toggle")
	defer d.Close()

	d.Power = Off
	if err := d.Toggle(); err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	if d.Power != On {
		t.Fatalf("shadow Power = %v, want On", d.Power)
	}
}

func TestDeviceStatsAfterCommand(t *testing.T) {
	ln, port := fakeBulb(t, func(line string) string {
		m := idPattern.FindStringSubmatch(line)
		if m == nil {
			return ""
		}
		return `{"id":` + m[1] + `,"result":["ok"]}` + "\r\n"
	})
	defer ln.Close()

	d := openTestDevice(t, port, "toggle")
	defer d.Close()

	if err := d.Toggle(); err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	// Give the fake bulb a moment; Stats() should now report one sample
	// for "toggle".
	time.Sleep(10 * time.Millisecond)
	if !strings.Contains(d.Stats(), "toggle") {
		t.Fatalf("Stats() = %q, missing toggle sample", d.Stats())
	}
}
