package tcp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/pkg/resolve"
	"github.com/nmeabus/nmeabus/pkg/socktune"
)

// Dialer implements spec.md §4.D's connector: resolve, iterate candidate
// addresses, tune, write the preamble, retrying forever on transient
// failure.
type Dialer struct {
	Host     string
	Port     string
	Retry    time.Duration
	Tune     socktune.Options
	Preamble []byte
	Log      *catalog.Logger

	// Sleep is overridable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)

	// DialContext is overridable for tests; defaults to (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d *Dialer) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

func (d *Dialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.DialContext != nil {
		return d.DialContext(ctx, network, addr)
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

// tryOnce makes a single resolve-and-connect attempt: resolve the host once,
// try every candidate address once, and return the first success. It never
// sleeps or retries; Connect and the initial-connect path in tcp/init.go
// build their different retry policies on top of this one primitive.
func (d *Dialer) tryOnce(ctx context.Context) (net.Conn, error) {
	addrs, err := resolve.Resolve(ctx, d.Host, d.Port, false)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, a := range addrs {
		conn, derr := d.dial(ctx, a.Network, a.String())
		if derr != nil {
			lastErr = derr
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			socktune.Apply(tcpConn, d.Tune, d.Log)
		}
		if len(d.Preamble) > 0 {
			if _, werr := conn.Write(d.Preamble); werr != nil {
				// spec.md §7/§9 Open Question 3: do_preamble's -1 is
				// ignored by callers in the source; we log and
				// continue rather than failing the connect, matching
				// that documented (if surprising) behaviour.
				if d.Log != nil {
					d.Log.Warnf("connector: preamble write failed: %v", werr)
				}
			}
		}
		if d.Log != nil {
			d.Log.Debugf("connector: connected to %s", a)
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("connector: no addresses resolved")
	}
	return nil, lastErr
}

// Connect loops until a connection is made or a hard (non-transient)
// resolution error occurs, per spec.md §4.D. It is the connector's
// steady-state reconnect path (armed once an interface already holds, or
// once held, a live connection); see Dialer.tryOnce for the single-attempt
// primitive used by the initial, non-retrying connect in tcp/init.go.
func (d *Dialer) Connect(ctx context.Context) (net.Conn, error) {
	retry := d.Retry
	if retry <= 0 {
		retry = time.Second
	}
	for {
		conn, err := d.tryOnce(ctx)
		if err == nil {
			return conn, nil
		}

		var te *resolve.ErrTransient
		if !errors.As(err, &te) {
			var resolveErr *net.DNSError
			if errors.As(err, &resolveErr) {
				return nil, err
			}
			if d.Log != nil {
				d.Log.Warnf("connector: connect failed, retrying in %s: %v", retry, err)
			}
			d.sleep(retry)
			continue
		}

		if d.Log != nil {
			d.Log.Warnf("connector: transient resolution failure for %s:%s: %v", d.Host, d.Port, err)
		}
		d.sleep(retry)
	}
}
