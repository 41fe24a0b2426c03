package syncer

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// ConnectivityMonitor reports online/offline transitions to the Run
// loop. The platform owns real connectivity detection; the engine only
// consumes the events.
type ConnectivityMonitor interface {
	// Events emits the new state on every transition (true = online).
	Events() <-chan bool
	// Online returns the current state.
	Online() bool
}

// ManualMonitor is a ConnectivityMonitor driven by explicit SetOnline
// calls - from platform callbacks in production glue, or directly in
// tests.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	events chan bool
}

// NewManualMonitor creates a monitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online, events: make(chan bool, 8)}
}

// Events implements ConnectivityMonitor.
func (m *ManualMonitor) Events() <-chan bool { return m.events }

// Online implements ConnectivityMonitor.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a state change and emits it when it is a
// transition. Non-blocking: if the consumer lags, the oldest event is
// dropped in favor of the newest (only the latest state matters).
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	for {
		select {
		case m.events <- online:
			return
		default:
			select {
			case <-m.events:
			default:
			}
		}
	}
}

// ProbeMonitor detects connectivity by periodically dialing the API
// host. Good enough for a device agent on a headless install; mobile
// builds replace it with platform reachability callbacks via
// ManualMonitor.
type ProbeMonitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration

	state *ManualMonitor
}

// NewProbeMonitor builds a monitor that probes the host of endpoint
// every interval. The endpoint port defaults to 443.
func NewProbeMonitor(endpoint string, interval time.Duration) (*ProbeMonitor, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return &ProbeMonitor{
		addr:     net.JoinHostPort(host, port),
		interval: interval,
		timeout:  3 * time.Second,
		state:    NewManualMonitor(true), // assume online until a probe fails
	}, nil
}

// Events implements ConnectivityMonitor.
func (p *ProbeMonitor) Events() <-chan bool { return p.state.Events() }

// Online implements ConnectivityMonitor.
func (p *ProbeMonitor) Online() bool { return p.state.Online() }

// Run probes until the context is cancelled.
func (p *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.probe(ctx)
			if online != p.state.Online() {
				slog.Info("connectivity changed", "online", online)
			}
			p.state.SetOnline(online)
		}
	}
}

func (p *ProbeMonitor) probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
