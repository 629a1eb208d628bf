package endoscope

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Control channel queries. Replies carry the query type plus 1000.
const (
	QueryBattery    = "type=1001"
	QueryDeviceInfo = "type=1002"
	QueryBrightness = "type=1003"

	replyTypeOffset = 1000
)

var (
	// StartStreamCommand is sent on the video socket to start streaming.
	StartStreamCommand = []byte{0x20, 0x36, 0x00, 0x02}
	// StopStreamCommand stops the stream. The camera does not acknowledge it.
	StopStreamCommand = []byte{0x20, 0x37}
)

// Response is a decoded control reply, e.g. type=2001&data=8500.
type Response map[string]string

func (r Response) Type() string {
	return r["type"]
}

// Int returns the integer value of key.
func (r Response) Int(key string) (int, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseResponse decodes &-separated key=value pairs. Bytes that are not valid
// UTF-8 become U+FFFD, so values carrying them no longer parse as numbers.
func ParseResponse(b []byte) Response {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	s = strings.TrimRight(s, "\x00\r\n ")
	r := Response{}
	for _, pair := range strings.Split(s, "&") {
		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r[key] = value
	}
	return r
}

// DeviceInfo is the reply to QueryDeviceInfo, e.g.
// type=2002&protocol=2&w=640&h=480&fps=20&ratio=4:3&angle=270&hardware=V1.1&company=vitcoco&...
type DeviceInfo struct {
	Protocol int
	Width    int
	Height   int
	FPS      int
	Ratio    string
	Angle    int
	Hardware string
	Company  string
	ID       string
	Firmware string
	SSID     string
	Model    string
	Raw      Response
}

func parseDeviceInfo(r Response) DeviceInfo {
	info := DeviceInfo{
		Ratio:    r["ratio"],
		Hardware: r["hardware"],
		Company:  r["company"],
		ID:       r["id"],
		Firmware: r["firmware"],
		SSID:     r["ssid"],
		Model:    r["dn"],
		Raw:      r,
	}
	info.Protocol, _ = r.Int("protocol")
	info.Width, _ = r.Int("w")
	info.Height, _ = r.Int("h")
	info.FPS, _ = r.Int("fps")
	info.Angle, _ = r.Int("angle")
	return info
}

// Strategy returns the frame assembly strategy matching the firmware's protocol generation.
func (i DeviceInfo) Strategy() string {
	if i.Protocol == 1 {
		return StrategyMarker
	}
	return StrategyCounted
}

// ControlClient talks to the camera's control port. Each query is one
// datagram out and one reply back. Safe for concurrent use.
type ControlClient struct {
	Name    string
	conn    net.PacketConn
	addr    net.Addr
	timeout time.Duration

	mu  sync.Mutex
	buf []byte
}

func NewControlClient(name string, conn net.PacketConn, addr net.Addr, timeout time.Duration) *ControlClient {
	return &ControlClient{
		Name:    name,
		conn:    conn,
		addr:    addr,
		timeout: timeout,
		buf:     make([]byte, MaxDatagramBytes),
	}
}

// Query sends query and waits for the matching reply. Replies to earlier
// queries that timed out are skipped.
func (c *ControlClient) Query(ctx context.Context, query string) (Response, error) {
	resp, _, err := c.query(ctx, query)
	return resp, err
}

// query is Query that also reports whether the reply was valid UTF-8.
func (c *ControlClient) query(ctx context.Context, query string) (Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, false, err
	}

	if _, err := c.conn.WriteTo([]byte(query+"\n"), c.addr); err != nil {
		return nil, false, fmt.Errorf("send %q: %w", query, err)
	}
	want := expectedReplyType(query)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		n, from, err := c.conn.ReadFrom(c.buf)
		if err != nil {
			return nil, false, fmt.Errorf("await reply to %q: %w", query, err)
		}
		if !sameHost(from, c.addr) {
			log.Debugf("[%s] ignoring control datagram from %s", c.Name, from)
			continue
		}
		raw := c.buf[:n]
		valid := utf8.Valid(raw)
		if !valid {
			log.Warningf("[%s] reply to %q is not valid UTF-8: %q", c.Name, query, raw)
		}
		resp := ParseResponse(raw)
		if want != "" && resp.Type() != "" && resp.Type() != want {
			log.Debugf("[%s] skipping stale reply of type %s while waiting for %s", c.Name, resp.Type(), want)
			continue
		}
		log.Debugf("[%s] %s -> %v", c.Name, query, resp)
		return resp, valid, nil
	}
}

// DeviceInfo asks the camera for its system information.
func (c *ControlClient) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.Query(ctx, QueryDeviceInfo)
	if err != nil {
		return DeviceInfo{}, err
	}
	return parseDeviceInfo(resp), nil
}

// Battery returns the charge in percent. ok is false when the camera did not
// answer or the answer was garbled in any way.
func (c *ControlClient) Battery(ctx context.Context) (percent float64, ok bool) {
	resp, valid, err := c.query(ctx, QueryBattery)
	if err != nil {
		log.Warningf("[%s] battery query failed: %v", c.Name, err)
		return 0, false
	}
	if !valid {
		return 0, false
	}
	data, ok := resp.Int("data")
	if !ok {
		log.Warningf("[%s] battery reply without usable data: %v", c.Name, resp)
		return 0, false
	}
	return float64(data) / 100, true
}

// SetBrightness sets the LED brightness, clamped to 0..100.
func (c *ControlClient) SetBrightness(ctx context.Context, value int) error {
	if value < 0 {
		value = 0
	} else if value > 100 {
		value = 100
	}
	_, err := c.Query(ctx, fmt.Sprintf("%s&value=%d", QueryBrightness, value))
	return err
}

func expectedReplyType(query string) string {
	first, _, _ := strings.Cut(query, "&")
	key, value, ok := strings.Cut(first, "=")
	if !ok || key != "type" {
		return ""
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return ""
	}
	return strconv.Itoa(n + replyTypeOffset)
}

func sameHost(a, b net.Addr) bool {
	ua, ok1 := a.(*net.UDPAddr)
	ub, ok2 := b.(*net.UDPAddr)
	if !ok1 || !ok2 {
		return a.String() == b.String()
	}
	return ua.IP.Equal(ub.IP) && ua.Port == ub.Port
}
