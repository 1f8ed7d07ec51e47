package yeelight

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
)

// Network defaults from the vendor's third-party LAN control protocol.
const (
	DefaultMulticastAddr = "239.255.255.250"
	DefaultMulticastPort = 1982
	DefaultLocalPort     = 7821
)

// searchMessage is the bit-exact SSDP-style probe the client sends once per
// find_lights call.
const searchMessage = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1982\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: wifi_bulb"

// Client discovers Yeelight-compatible bulbs on the local network via an
// SSDP-style multicast probe.
type Client struct {
	conn          *net.UDPConn
	multicastAddr *net.UDPAddr
}

// New returns a Client bound to the protocol's defaults: multicast group
// 239.255.255.250:1982, local wildcard bind on DefaultLocalPort.
func New() (*Client, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(DefaultMulticastAddr), Port: DefaultMulticastPort}
	return WithAddr(addr, DefaultLocalPort)
}

// WithAddr returns a Client bound to a caller-chosen multicast group and
// local port. Construction fails if multicastAddr is not a valid IPv4
// multicast address (224.0.0.0/4) or if the local bind collides with an
// already-bound socket.
func WithAddr(multicastAddr *net.UDPAddr, localPort int) (*Client, error) {
	ip4 := multicastAddr.IP.To4()
	if ip4 == nil || !ip4.IsMulticast() {
		return nil, fmt.Errorf("yeelight: %s is not a valid IPv4 multicast address", multicastAddr.IP)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: localPort})
	if err != nil {
		return nil, &IoError{Err: err}
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: ip4}); err != nil {
		conn.Close()
		return nil, &IoError{Err: err}
	}

	return &Client{conn: conn, multicastAddr: multicastAddr}, nil
}

// Close releases the client's UDP socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the address the client's UDP socket is bound to.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// FindLights sends one SSDP-style multicast probe, then collects distinct
// device advertisements until timeout elapses. Each recv attempt is bounded
// by a 10ms read deadline, so the caller's goroutine is never parked
// indefinitely on a socket read. The timeout is only checked between
// attempts: the last recv can end up to 10ms after it, and opening the
// session of a newly found device (Open, with its 3-second dial timeout) is
// not cut short when the timeout elapses.
func (c *Client) FindLights(timeout time.Duration) []*Device {
	if _, err := c.conn.WriteToUDP([]byte(searchMessage), c.multicastAddr); err != nil {
		slog.Debug("yeelight: probe send failed, polling for replies anyway", "err", err)
	}

	found := make(map[string]*Device)
	buf := make([]byte, 2048)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			slog.Debug("yeelight: discovery recv error", "err", err)
			continue
		}

		dev, err := parseAdvertisement(buf[:n])
		if err != nil {
			slog.Debug("yeelight: discarding malformed advertisement", "err", err)
			continue
		}

		if _, dup := found[dev.ID]; dup {
			continue
		}
		if err := dev.Open(); err != nil {
			slog.Debug("yeelight: discarding device, session open failed", "id", dev.ID, "err", err)
			continue
		}
		found[dev.ID] = dev
	}

	out := make([]*Device, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	return out
}

// parseAdvertisement parses one UDP datagram as an HTTP response and builds
// a candidate Device from its headers.
func parseAdvertisement(datagram []byte) (*Device, error) {
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(datagram))), nil)
	if err != nil {
		return nil, fmt.Errorf("yeelight: not an HTTP advertisement: %w", err)
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(requiredHeaders))
	for _, field := range requiredHeaders {
		if vs := resp.Header.Values(field); len(vs) > 0 {
			headers[field] = vs[0]
		}
	}

	return newDeviceFromHeaders(headers)
}
