// Package netmon reports device connectivity: whether a network interface is
// up, which transport it uses, and whether the sync backend answers.
package netmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport is the kind of link the device is using.
type Transport string

const (
	TransportNone     Transport = "NONE"
	TransportWiFi     Transport = "WIFI"
	TransportCellular Transport = "CELLULAR"
	TransportEthernet Transport = "ETHERNET"
	TransportVPN      Transport = "VPN"
	TransportOther    Transport = "OTHER"
	TransportUnknown  Transport = "UNKNOWN"
)

// State is a point-in-time connectivity reading.
type State struct {
	IsConnected         bool      `json:"is_connected"`
	IsInternetReachable bool      `json:"is_internet_reachable"`
	Transport           Transport `json:"transport"`
}

// Online reports whether both connectivity flags are set.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// ErrInvalidProbe is returned for probe targets that are neither http(s) nor tcp.
var ErrInvalidProbe = errors.New("invalid probe target")

// Iface is the subset of interface data used for transport detection.
type Iface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs int
}

// InterfaceLister lists the device's network interfaces.
type InterfaceLister func() ([]Iface, error)

// Monitor checks connectivity against a probe target.
type Monitor struct {
	probe      string
	timeout    time.Duration
	interfaces InterfaceLister
	http       *http.Client
	dialer     *net.Dialer
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterfaces replaces interface discovery (tests, platforms without net.Interfaces).
func WithInterfaces(l InterfaceLister) Option {
	return func(m *Monitor) { m.interfaces = l }
}

// WithHTTPClient replaces the HTTP client used for http(s) probes.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.http = c }
}

// New creates a Monitor. probe is an http(s):// URL or tcp://host:port;
// an empty probe never confirms reachability.
func New(probe string, timeout time.Duration, opts ...Option) (*Monitor, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if probe != "" {
		if _, err := parseProbe(probe); err != nil {
			return nil, err
		}
	}
	m := &Monitor{
		probe:      probe,
		timeout:    timeout,
		interfaces: SystemInterfaces,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: &net.Dialer{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Probe returns the configured probe target.
func (m *Monitor) Probe() string {
	return m.probe
}

// CheckConnectivity reads interface state and, when an interface is up,
// probes the backend. An error means the reading itself failed.
func (m *Monitor) CheckConnectivity(ctx context.Context) (State, error) {
	ifaces, err := m.interfaces()
	if err != nil {
		return State{Transport: TransportUnknown}, fmt.Errorf("list interfaces: %w", err)
	}

	transport := Classify(ifaces)
	state := State{
		IsConnected: transport != TransportNone,
		Transport:   transport,
	}
	if !state.IsConnected || m.probe == "" {
		return state, nil
	}

	if err := m.reach(ctx); err != nil {
		slog.Debug("netmon: probe failed", "probe", m.probe, "err", err)
		return state, nil
	}
	state.IsInternetReachable = true
	return state, nil
}

// reach returns nil when the probe target answers.
func (m *Monitor) reach(ctx context.Context) error {
	u, err := parseProbe(m.probe)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if u.Scheme == "tcp" {
		conn, err := m.dialer.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return err
		}
		return conn.Close()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probe, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	// Any status proves the server is reachable.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.Body.Close()
}

func parseProbe(probe string) (*url.URL, error) {
	u, err := url.Parse(probe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbe, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidProbe, probe)
		}
	case "tcp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return nil, fmt.Errorf("%w: %q needs host:port", ErrInvalidProbe, probe)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProbe, u.Scheme)
	}
	return u, nil
}

// SystemInterfaces lists interfaces via net.Interfaces.
func SystemInterfaces() ([]Iface, error) {
	list, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(list))
	for _, ifc := range list {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Iface{
			Name:  ifc.Name,
			Up:    ifc.Flags&net.FlagUp != 0,
			Loop:  ifc.Flags&net.FlagLoopback != 0,
			Addrs: len(addrs),
		})
	}
	return out, nil
}

// transportPrefixes maps interface name prefixes to transports. A bare
// en<N> (macOS, BSD) can be Wi-Fi or wired and is left as TransportOther.
var transportPrefixes = []struct {
	prefixes  []string
	transport Transport
}{
	{[]string{"tun", "tap", "wg", "utun", "ppp", "ipsec"}, TransportVPN},
	{[]string{"wlan", "wlp", "wl", "wifi", "ath"}, TransportWiFi},
	{[]string{"wwan", "rmnet", "ccmni", "pdp_ip"}, TransportCellular},
	{[]string{"eth", "eno", "enp", "ens", "enx"}, TransportEthernet},
}

// Classify picks the transport of the active interfaces. A VPN link wins
// over the link it rides on; no active interface means TransportNone.
func Classify(ifaces []Iface) Transport {
	best := TransportNone
	for _, ifc := range ifaces {
		if !ifc.Up || ifc.Loop || ifc.Addrs == 0 {
			continue
		}
		t := classifyName(ifc.Name)
		if t == TransportVPN {
			return t
		}
		if best == TransportNone || (best == TransportOther && t != TransportOther) {
			best = t
		}
	}
	return best
}

func classifyName(name string) Transport {
	name = strings.ToLower(name)
	for _, group := range transportPrefixes {
		for _, p := range group.prefixes {
			if strings.HasPrefix(name, p) {
				return group.transport
			}
		}
	}
	return TransportOther
}

// Watch polls the monitor and emits the state each time the online predicate
// changes. The first reading is always emitted. The channel closes when ctx ends.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) <-chan State {
	return Watch(ctx, m, interval)
}

// Checker is anything that reports connectivity.
type Checker interface {
	CheckConnectivity(ctx context.Context) (State, error)
}

// Watch polls c every interval and emits online/offline transitions.
// Check errors count as offline.
func Watch(ctx context.Context, c Checker, interval time.Duration) <-chan State {
	out := make(chan State, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		first := true
		var last bool
		for {
			state, err := c.CheckConnectivity(ctx)
			if err != nil {
				state = State{Transport: TransportUnknown}
			}
			if first || state.Online() != last {
				first = false
				last = state.Online()
				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
