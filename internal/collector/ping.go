package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// TCPProber measures round-trip latency as the average TCP connect time to Addr over Attempts
// dials. Failed dials are skipped; the probe fails only when every dial fails.
type TCPProber struct {
	Addr     string
	Attempts int
	Timeout  time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewTCPProber(addr string, attempts int, timeout time.Duration) *TCPProber {
	if attempts <= 0 {
		attempts = 10
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &net.Dialer{}
	return &TCPProber{Addr: addr, Attempts: attempts, Timeout: timeout, dial: d.DialContext}
}

func (p *TCPProber) Probe(ctx context.Context) (time.Duration, error) {
	var sum time.Duration
	ok := 0
	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		dctx, cancel := context.WithTimeout(ctx, p.Timeout)
		start := time.Now()
		conn, err := p.dial(dctx, "tcp", p.Addr)
		elapsed := time.Since(start)
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		_ = conn.Close()
		sum += elapsed
		ok++
	}
	if ok == 0 {
		if lastErr == nil {
			lastErr = errors.New("no attempts made")
		}
		return 0, fmt.Errorf("%s unreachable: %w", p.Addr, lastErr)
	}
	return sum / time.Duration(ok), nil
}
