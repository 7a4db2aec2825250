package netmon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func staticIfaces(ifaces ...Iface) InterfaceLister {
	return func() ([]Iface, error) { return ifaces, nil }
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []Iface
		want   Transport
	}{
		{"none", nil, TransportNone},
		{"loopback only", []Iface{{Name: "lo", Up: true, Loop: true, Addrs: 1}}, TransportNone},
		{"down wifi", []Iface{{Name: "wlan0", Up: false, Addrs: 1}}, TransportNone},
		{"no addrs", []Iface{{Name: "eth0", Up: true}}, TransportNone},
		{"wifi", []Iface{{Name: "wlan0", Up: true, Addrs: 1}}, TransportWiFi},
		{"ethernet", []Iface{{Name: "enp3s0", Up: true, Addrs: 2}}, TransportEthernet},
		{"cellular", []Iface{{Name: "rmnet_data0", Up: true, Addrs: 1}}, TransportCellular},
		{"vpn wins", []Iface{{Name: "eth0", Up: true, Addrs: 1}, {Name: "wg0", Up: true, Addrs: 1}}, TransportVPN},
		{"known beats other", []Iface{{Name: "docker0", Up: true, Addrs: 1}, {Name: "wlp2s0", Up: true, Addrs: 1}}, TransportWiFi},
		{"other", []Iface{{Name: "bridge0", Up: true, Addrs: 1}}, TransportOther},
		{"usb ethernet", []Iface{{Name: "enx00e04c680001", Up: true, Addrs: 1}}, TransportEthernet},
		{"bare en is ambiguous", []Iface{{Name: "en0", Up: true, Addrs: 1}}, TransportOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ifaces); got != tt.want {
				t.Errorf("Classify: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckConnectivity_HTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized) // any answer counts
	}))
	defer srv.Close()

	m, err := New(srv.URL, time.Second, WithInterfaces(staticIfaces(Iface{Name: "eth0", Up: true, Addrs: 1})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	state, err := m.CheckConnectivity(context.Background())
	if err != nil {
		t.Fatalf("CheckConnectivity: %v", err)
	}
	if !state.IsConnected || !state.IsInternetReachable {
		t.Errorf("state: got %+v, want connected and reachable", state)
	}
	if state.Transport != TransportEthernet {
		t.Errorf("transport: got %s, want ETHERNET", state.Transport)
	}
}

func TestCheckConnectivity_UnreachableProbe(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, err := New(url, 500*time.Millisecond, WithInterfaces(staticIfaces(Iface{Name: "wlan0", Up: true, Addrs: 1})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	state, err := m.CheckConnectivity(context.Background())
	if err != nil {
		t.Fatalf("CheckConnectivity: %v", err)
	}
	if !state.IsConnected {
		t.Error("expected connected")
	}
	if state.IsInternetReachable {
		t.Error("expected unreachable for closed server")
	}
	if state.Online() {
		t.Error("Online should be false")
	}
}

func TestCheckConnectivity_TCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	m, err := New("tcp://"+ln.Addr().String(), time.Second, WithInterfaces(staticIfaces(Iface{Name: "eth0", Up: true, Addrs: 1})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := m.CheckConnectivity(context.Background())
	if err != nil {
		t.Fatalf("CheckConnectivity: %v", err)
	}
	if !state.Online() {
		t.Errorf("state: got %+v, want online", state)
	}
}

func TestCheckConnectivity_NoInterfacesSkipsProbe(t *testing.T) {
	var probed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed.Store(true)
	}))
	defer srv.Close()

	m, err := New(srv.URL, time.Second, WithInterfaces(staticIfaces()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := m.CheckConnectivity(context.Background())
	if err != nil {
		t.Fatalf("CheckConnectivity: %v", err)
	}
	if state.IsConnected || state.Transport != TransportNone {
		t.Errorf("state: got %+v, want disconnected/NONE", state)
	}
	if probed.Load() {
		t.Error("probe should not run without an active interface")
	}
}

func TestCheckConnectivity_NoProbeNeverReachable(t *testing.T) {
	m, err := New("", time.Second, WithInterfaces(staticIfaces(Iface{Name: "eth0", Up: true, Addrs: 1})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := m.CheckConnectivity(context.Background())
	if err != nil {
		t.Fatalf("CheckConnectivity: %v", err)
	}
	if state.IsInternetReachable {
		t.Error("reachability must not be assumed without a probe")
	}
}

func TestCheckConnectivity_InterfaceError(t *testing.T) {
	m, err := New("", time.Second, WithInterfaces(func() ([]Iface, error) {
		return nil, errors.New("permission denied")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.CheckConnectivity(context.Background()); err == nil {
		t.Fatal("expected error from interface listing")
	}
}

func TestNew_InvalidProbe(t *testing.T) {
	for _, p := range []string{"ftp://example.com", "tcp://nohost", "http://"} {
		if _, err := New(p, time.Second); !errors.Is(err, ErrInvalidProbe) {
			t.Errorf("New(%q): got %v, want ErrInvalidProbe", p, err)
		}
	}
}

type scriptedChecker struct {
	states chan State
}

func (s *scriptedChecker) CheckConnectivity(ctx context.Context) (State, error) {
	select {
	case st := <-s.states:
		return st, nil
	default:
		return State{IsConnected: true, IsInternetReachable: true}, nil
	}
}

func TestWatch_EmitsTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &scriptedChecker{states: make(chan State, 4)}
	c.states <- State{}
	c.states <- State{}
	c.states <- State{IsConnected: true, IsInternetReachable: true, Transport: TransportWiFi}

	ch := Watch(ctx, c, 5*time.Millisecond)

	var got []bool
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case st := <-ch:
			got = append(got, st.Online())
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] || !got[1] {
		t.Errorf("transitions: got %v, want [false true]", got)
	}

	cancel()
	for range ch {
	}
}

func TestTransportClassifyName(t *testing.T) {
	if got := classifyName("UTUN3"); got != TransportVPN {
		t.Errorf("got %s, want VPN", got)
	}
	if !strings.HasPrefix(string(classifyName("pdp_ip0")), "CELL") {
		t.Errorf("pdp_ip0 should be cellular")
	}
}
