package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/higebu/netfd"

	"github.com/nmeabus/nmeabus/filter"
	"github.com/nmeabus/nmeabus/iface"
	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/pkg/exporter"
	"github.com/nmeabus/nmeabus/pkg/socktune"
	"github.com/nmeabus/nmeabus/preamble"
	"github.com/nmeabus/nmeabus/senblk"
	"github.com/nmeabus/nmeabus/tag"
)

// gpsdWatchPreamble is the literal WATCH JSON spec.md §4.I / §8 scenario 5
// specifies for gpsd=yes.
const gpsdWatchPreamble = `?WATCH={"enable":true,"nmea":true}`

// defaultPort is used by a server when no port option is supplied and gpsd
// is not set; a client in the same situation uses the "nmea-0183" service
// name instead.
const defaultPort = "10110"

const gpsdPort = "2947"

// Mode selects client or server role (spec.md §4.I "mode" option).
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
)

// Options is the raw (var, val) configuration sequence from spec.md §6,
// with case-insensitive keys (spec.md §4.I).
type Options map[string]string

// NewOptions builds an Options map from pairs, lower-casing every key.
func NewOptions(pairs map[string]string) Options {
	o := make(Options, len(pairs))
	for k, v := range pairs {
		o[strings.ToLower(k)] = v
	}
	return o
}

func (o Options) get(key string) (string, bool) {
	v, ok := o[strings.ToLower(key)]
	return v, ok
}

func yesNo(v string) bool {
	return strings.EqualFold(v, "yes")
}

// Config is the validated, defaulted result of parsing Options.
type Config struct {
	Mode      Mode
	Address   string
	Port      string
	Persist   bool
	IPersist  bool
	Retry     time.Duration
	Tune      socktune.Options
	Preamble  []byte
	Direction iface.Direction

	// Metrics is optional; when set, a persist client's Shared coordinator
	// reports critical-region occupancy, liveness and reconnects under
	// MetricsKey (defaulting to name, see initClient).
	Metrics *exporter.InterfaceCollector
}

// ParseOptions implements spec.md §4.I's option table: validation,
// PERSIST-gating, and defaults. A configuration error (spec.md §7) is
// returned as a plain error; the caller logs it and produces no interface.
func ParseOptions(o Options) (*Config, error) {
	cfg := &Config{
		Direction: iface.BOTH,
		Tune:      socktune.Options{Keepalive: socktune.Unset, NoDelay: true},
	}

	if v, ok := o.get("direction"); ok {
		switch strings.ToLower(v) {
		case "in":
			cfg.Direction = iface.IN
		case "out":
			cfg.Direction = iface.OUT
		case "both", "":
			cfg.Direction = iface.BOTH
		default:
			return nil, fmt.Errorf("tcp: invalid direction %q", v)
		}
	}

	if v, ok := o.get("mode"); ok {
		switch strings.ToLower(v) {
		case "client", "":
			cfg.Mode = ModeClient
		case "server":
			cfg.Mode = ModeServer
		default:
			return nil, fmt.Errorf("tcp: invalid mode %q", v)
		}
	}

	persistVal, persistSet := o.get("persist")
	cfg.Persist = persistSet && yesNo(persistVal)
	ipersistVal, ipersistSet := o.get("ipersist")
	cfg.IPersist = ipersistSet && yesNo(ipersistVal)
	if cfg.IPersist {
		cfg.Persist = true
	}

	cfg.Address, _ = o.get("address")
	if cfg.Mode == ModeClient && cfg.Address == "" {
		return nil, fmt.Errorf("tcp: address is required for client mode")
	}

	gpsd := false
	if v, ok := o.get("gpsd"); ok {
		gpsd = yesNo(v)
	}

	if v, ok := o.get("port"); ok {
		cfg.Port = v
	} else if gpsd {
		cfg.Port = gpsdPort
	} else if cfg.Mode == ModeServer {
		cfg.Port = defaultPort
	} else {
		cfg.Port = "nmea-0183"
	}

	if err := requiresPersist(o, cfg.Persist, "retry"); err != nil {
		return nil, err
	}
	if v, ok := o.get("retry"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("tcp: retry must be a positive integer, got %q", v)
		}
		cfg.Retry = time.Duration(secs) * time.Second
	} else {
		cfg.Retry = 15 * time.Second
	}

	if err := requiresPersist(o, cfg.Persist, "keepalive"); err != nil {
		return nil, err
	}
	cfg.Tune.Keepalive = socktune.Unset
	if cfg.Persist {
		cfg.Tune.Keepalive = socktune.Enabled
		if v, ok := o.get("keepalive"); ok {
			if yesNo(v) {
				cfg.Tune.Keepalive = socktune.Enabled
			} else {
				cfg.Tune.Keepalive = socktune.Disabled
			}
		}
	}

	for _, name := range []string{"keepidle", "keepintvl", "keepcnt"} {
		if _, ok := o.get(name); !ok {
			continue
		}
		if err := requiresPersist(o, cfg.Persist, name); err != nil {
			return nil, err
		}
	}
	cfg.Tune.KeepIdle = intOption(o, "keepidle", 14400)
	cfg.Tune.KeepIntvl = intOption(o, "keepintvl", 150)
	cfg.Tune.KeepCnt = intOption(o, "keepcnt", 8)

	if err := requiresPersist(o, cfg.Persist, "timeout"); err != nil {
		return nil, err
	}
	if v, ok := o.get("timeout"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("tcp: timeout must be a positive integer, got %q", v)
		}
		cfg.Tune.SendTimeout = time.Duration(secs) * time.Second
	} else if cfg.Persist {
		cfg.Tune.SendTimeout = 10 * time.Second
	}

	if err := requiresPersist(o, cfg.Persist, "sndbuf"); err != nil {
		return nil, err
	}
	if v, ok := o.get("sndbuf"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("tcp: sndbuf must be a positive integer, got %q", v)
		}
		cfg.Tune.SendBuffer = n
	}

	cfg.Tune.NoDelay = true
	if v, ok := o.get("nodelay"); ok {
		cfg.Tune.NoDelay = yesNo(v)
	}

	preambleStr, preambleSet := o.get("preamble")
	if preambleSet && gpsd {
		return nil, fmt.Errorf("tcp: preamble and gpsd are mutually exclusive")
	}
	if cfg.Mode == ModeServer && (preambleSet || gpsd) {
		return nil, fmt.Errorf("tcp: preamble/gpsd are client-only options")
	}
	switch {
	case gpsd:
		cfg.Preamble = []byte(gpsdWatchPreamble)
	case preambleSet:
		parsed, err := preamble.Parse(preambleStr)
		if err != nil {
			return nil, fmt.Errorf("tcp: preamble: %w", err)
		}
		cfg.Preamble = parsed
	}

	return cfg, nil
}

func requiresPersist(o Options, persist bool, key string) error {
	if _, ok := o.get(key); ok && !persist {
		return fmt.Errorf("tcp: option %q requires persist=yes", key)
	}
	return nil
}

func intOption(o Options, key string, def int) int {
	if v, ok := o.get(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// BuildResult is what Init produces: either one or two client interfaces
// ready to Run (direction BOTH yields a Pair), or a not-yet-serving Server
// plus the address to listen on.
type BuildResult struct {
	Interfaces []*iface.Interface // client mode
	Server     *Server            // server mode
	ListenAddr string             // server mode
}

// Init implements spec.md §4.I: given a Config already validated by
// ParseOptions, it resolves/connects (or
// arms a deferred connector under initial-persist), and constructs the
// interface(s) or server described by cfg. name/id/queueSize/filters/tagFlags
// mirror the fields spec.md's table says are inherited from the generic
// config layer, out of this package's scope to parse.
func Init(cfg *Config, id uint32, name string, queueSize int, filters *filter.Chain, tagFlags tag.Flags, log *catalog.Logger) (*BuildResult, error) {
	if cfg.Mode == ModeServer {
		srv := &Server{
			ID:        id,
			Name:      name,
			Direction: cfg.Direction,
			QueueSize: queueSize,
			Filters:   filters,
			TagFlags:  tagFlags,
			NoDelay:   cfg.Tune.NoDelay,
			Log:       log,
		}
		if cfg.Direction != iface.IN {
			srv.NewOutQueue = func() *senblk.Queue { return senblk.New(queueSize) }
		}
		return &BuildResult{
			Server:     srv,
			ListenAddr: net.JoinHostPort(cfg.Address, cfg.Port),
		}, nil
	}
	return initClient(cfg, id, name, queueSize, filters, tagFlags, log)
}

func initClient(cfg *Config, id uint32, name string, queueSize int, filters *filter.Chain, tagFlags tag.Flags, log *catalog.Logger) (*BuildResult, error) {
	dialer := &Dialer{
		Host:     cfg.Address,
		Port:     cfg.Port,
		Retry:    cfg.Retry,
		Tune:     cfg.Tune,
		Preamble: cfg.Preamble,
		Log:      log,
	}

	var flags iface.Flags
	if cfg.Persist {
		flags |= iface.PERSIST
	}
	if cfg.IPersist {
		flags |= iface.IPERSIST
	}

	transport := &Transport{}
	if cfg.Persist {
		transport.Shared = NewShared(cfg.Address, cfg.Port, cfg.Preamble, cfg.Retry, cfg.Tune, log)
		if cfg.Metrics != nil {
			transport.Shared.Metrics = cfg.Metrics
			transport.Shared.MetricsKey = name
			shared := transport.Shared
			cfg.Metrics.TrackFD(name, []string{name}, func() int {
				c, ok := shared.Conn().(*net.TCPConn)
				if !ok {
					return -1
				}
				return netfd.GetFdFromConn(c)
			})
		}
	}

	// The initial attempt is made once, not retried: under ipersist a
	// failure here arms the deferred connector (which does retry forever)
	// instead of blocking Init. Without ipersist, Connect's retry-forever
	// loop would never let a genuinely bad initial configuration fail.
	conn, err := dialer.tryOnce(context.Background())
	deferred := false
	switch {
	case err == nil:
		if transport.Shared != nil {
			transport.Shared.SetConn(conn)
		} else {
			transport.Conn = conn
		}
	case cfg.IPersist:
		// spec.md §4.I: arm deferred connect rather than failing outright.
		deferred = true
	default:
		return nil, fmt.Errorf("tcp: initial connect failed: %w", err)
	}

	var deferredOnce sync.Once
	deferredErr := &deferredConnectError{}

	build := func(dir iface.Direction, t *Transport, q *senblk.Queue) *iface.Interface {
		i := iface.New(id, name, dir, flags)
		i.Transport = t
		i.Filters = filters.Clone()
		i.TagFlags = tagFlags
		i.Log = log
		if q != nil {
			i.Queue = q
		}
		if deferred {
			wireDeferred(i, dialer, &deferredOnce, deferredErr)
		} else {
			wireOps(i)
		}
		return i
	}

	if cfg.Direction != iface.BOTH {
		q := (*senblk.Queue)(nil)
		if cfg.Direction == iface.OUT {
			q = senblk.New(queueSize)
		}
		return &BuildResult{Interfaces: []*iface.Interface{build(cfg.Direction, transport, q)}}, nil
	}

	inT := transport
	outT := Dup(transport)
	inI := build(iface.IN, inT, nil)
	outI := build(iface.OUT, outT, senblk.New(queueSize))
	inI.Pair = outI
	outI.Pair = inI
	return &BuildResult{Interfaces: []*iface.Interface{inI, outI}}, nil
}

// deferredConnectError carries the outcome of the one-time deferred connect
// shared between both halves of a BOTH pair; safe to read without a lock
// once sync.Once.Do has returned, since Once provides that happens-before
// guarantee to every caller, not only the one that ran the function.
type deferredConnectError struct {
	err error
}

// wireDeferred implements spec.md §4.I's deferred-connect entry point: on
// first scheduling it takes the connection (blocking until the connector
// succeeds), then dispatches to the regular read/write loop. Modelled as
// note 9 suggests — a tagged variant checked once at thread entry rather
// than a per-iteration dispatch. once/result are shared across both halves
// of a BOTH pair so exactly one connect attempt is made, matching "takes
// the shared mutex, calls the connector, releases".
func wireDeferred(i *iface.Interface, dialer *Dialer, once *sync.Once, result *deferredConnectError) {
	connectOnce := func(t *Transport) error {
		once.Do(func() {
			conn, err := dialer.Connect(context.Background())
			if err != nil {
				result.err = err
				return
			}
			if t.Shared != nil {
				t.Shared.SetConn(conn)
			} else {
				t.Conn = conn
			}
		})
		return result.err
	}

	switch i.Direction {
	case iface.IN:
		i.Ops = iface.Ops{
			Read: func(i *iface.Interface) error {
				if err := connectOnce(i.Transport.(*Transport)); err != nil {
					return err
				}
				return ReadLoop(i)
			},
			Cleanup: Cleanup,
		}
	case iface.OUT:
		i.Ops = iface.Ops{
			Write: func(i *iface.Interface) error {
				if err := connectOnce(i.Transport.(*Transport)); err != nil {
					return err
				}
				return WriteLoop(i)
			},
			Cleanup: Cleanup,
		}
	}
}
