package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"partyline/internal/metrics"
	"partyline/internal/relay"
	"partyline/internal/transport"
	"partyline/util"
)

// ServeMode runs one party line: the login gateway, the outbound
// sessions named in Initiate, and the metrics endpoint.  Cancelling
// the context closes the relay and every session on it.
type ServeMode struct {
	Relay       *relay.Relay
	Dialer      transport.Dialer // closed after the relay; may be nil
	Gateway     *Gateway         // nil when no listen address is configured
	Initiate    []string
	MetricsAddr string // "" disables the endpoint
	Metrics     *metrics.Collector
	GracePeriod time.Duration
	Logger      *util.Logger

	// OnMetricsListen, when set, receives the bound metrics address.
	OnMetricsListen func(net.Addr)
}

// Run blocks until ctx is cancelled or a listener fails.
func (m *ServeMode) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if m.MetricsAddr != "" {
		if err := m.serveMetrics(gctx, g); err != nil {
			m.Relay.Close()
			return err
		}
	}
	if m.Gateway != nil {
		g.Go(func() error { return m.Gateway.Run(gctx) })
	}

	for _, id := range m.Initiate {
		if _, err := m.Relay.Initiate(id); err != nil {
			m.Logger.Warn("initiate %s: %v", id, err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		m.Relay.Close()
		if m.Dialer != nil {
			if err := m.Dialer.Close(); err != nil {
				m.Logger.Verbose("close dialer: %v", err)
			}
		}
		m.Logger.Verbose("final stats: %s", m.Metrics.JSON())
		return nil
	})

	return g.Wait()
}

func (m *ServeMode) serveMetrics(ctx context.Context, g *errgroup.Group) error {
	ln, err := net.Listen("tcp", m.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", m.MetricsAddr, err)
	}
	m.Logger.Info("metrics on http://%s/metrics", ln.Addr())
	if m.OnMetricsListen != nil {
		m.OnMetricsListen(ln.Addr())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(m.Metrics))
	mux.HandleFunc("/who", func(w http.ResponseWriter, r *http.Request) {
		for _, id := range m.Relay.Identities() {
			fmt.Fprintln(w, id)
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		grace := m.GracePeriod
		if grace <= 0 {
			grace = 5 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return nil
}
