package tcp

import (
	"testing"

	"github.com/nmeabus/nmeabus/iface"
	"github.com/nmeabus/nmeabus/pkg/socktune"
)

func TestParseOptionsDefaults(t *testing.T) {
	cfg, err := ParseOptions(NewOptions(map[string]string{"address": "example.org"}))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if cfg.Mode != ModeClient {
		t.Errorf("Mode = %v, want ModeClient", cfg.Mode)
	}
	if cfg.Direction != iface.BOTH {
		t.Errorf("Direction = %v, want BOTH", cfg.Direction)
	}
	if cfg.Persist || cfg.IPersist {
		t.Errorf("Persist/IPersist should default to false")
	}
	if cfg.Port != "nmea-0183" {
		t.Errorf("Port = %q, want %q for a non-gpsd client with no port set", cfg.Port, "nmea-0183")
	}
	if cfg.Tune.NoDelay != true {
		t.Errorf("NoDelay should default to true")
	}
}

func TestParseOptionsClientRequiresAddress(t *testing.T) {
	if _, err := ParseOptions(NewOptions(map[string]string{})); err == nil {
		t.Fatal("expected an error for client mode with no address")
	}
}

func TestParseOptionsServerDoesNotRequireAddress(t *testing.T) {
	cfg, err := ParseOptions(NewOptions(map[string]string{"mode": "server"}))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want the default server port %q", cfg.Port, defaultPort)
	}
}

func TestParseOptionsIPersistImpliesPersist(t *testing.T) {
	cfg, err := ParseOptions(NewOptions(map[string]string{
		"address":  "example.org",
		"ipersist": "yes",
	}))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if !cfg.Persist {
		t.Errorf("ipersist=yes must imply persist=yes")
	}
	if cfg.Tune.Keepalive != socktune.Enabled {
		t.Errorf("keepalive should default to enabled under persist, got %v", cfg.Tune.Keepalive)
	}
}

// TestParseOptionsGating exercises spec.md §8's "option gating" property:
// every option that requires persist=yes must be rejected when given
// without it.
func TestParseOptionsGating(t *testing.T) {
	gated := []struct {
		key, val string
	}{
		{"retry", "5"},
		{"keepalive", "yes"},
		{"keepidle", "60"},
		{"keepintvl", "30"},
		{"keepcnt", "4"},
		{"timeout", "5"},
		{"sndbuf", "4096"},
	}
	for _, g := range gated {
		opts := NewOptions(map[string]string{
			"address": "example.org",
			g.key:     g.val,
		})
		if _, err := ParseOptions(opts); err == nil {
			t.Errorf("option %q=%q without persist=yes should be rejected", g.key, g.val)
		}
	}
}

func TestParseOptionsGatedOptionsAllowedUnderPersist(t *testing.T) {
	opts := NewOptions(map[string]string{
		"address":   "example.org",
		"persist":   "yes",
		"retry":     "5",
		"keepalive": "yes",
		"keepidle":  "60",
		"keepintvl": "30",
		"keepcnt":   "4",
		"timeout":   "5",
		"sndbuf":    "4096",
	})
	cfg, err := ParseOptions(opts)
	if err != nil {
		t.Fatalf("ParseOptions with persist=yes: %v", err)
	}
	if cfg.Tune.KeepIdle != 60 || cfg.Tune.KeepIntvl != 30 || cfg.Tune.KeepCnt != 4 {
		t.Errorf("keepalive tuning not applied: %+v", cfg.Tune)
	}
	if cfg.Tune.SendBuffer != 4096 {
		t.Errorf("SendBuffer = %d, want 4096", cfg.Tune.SendBuffer)
	}
}

func TestParseOptionsGpsdSetsWatchPreambleAndPort(t *testing.T) {
	cfg, err := ParseOptions(NewOptions(map[string]string{
		"address": "example.org",
		"gpsd":    "yes",
	}))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if cfg.Port != gpsdPort {
		t.Errorf("Port = %q, want gpsd default %q", cfg.Port, gpsdPort)
	}
	if string(cfg.Preamble) != gpsdWatchPreamble {
		t.Errorf("Preamble = %q, want the gpsd WATCH string", cfg.Preamble)
	}
}

func TestParseOptionsPreambleAndGpsdMutuallyExclusive(t *testing.T) {
	_, err := ParseOptions(NewOptions(map[string]string{
		"address":  "example.org",
		"gpsd":     "yes",
		"preamble": `\n`,
	}))
	if err == nil {
		t.Fatal("expected an error when preamble and gpsd are both set")
	}
}

func TestParseOptionsPreambleRejectedForServer(t *testing.T) {
	_, err := ParseOptions(NewOptions(map[string]string{
		"mode":     "server",
		"preamble": `\n`,
	}))
	if err == nil {
		t.Fatal("expected an error: preamble is client-only")
	}
}

func TestParseOptionsInvalidDirection(t *testing.T) {
	_, err := ParseOptions(NewOptions(map[string]string{
		"address":   "example.org",
		"direction": "sideways",
	}))
	if err == nil {
		t.Fatal("expected an error for an invalid direction")
	}
}

func TestParseOptionsDirectionInOut(t *testing.T) {
	for _, dir := range []string{"in", "out", "both"} {
		cfg, err := ParseOptions(NewOptions(map[string]string{
			"address":   "example.org",
			"direction": dir,
		}))
		if err != nil {
			t.Fatalf("direction=%q: %v", dir, err)
		}
		want := map[string]iface.Direction{"in": iface.IN, "out": iface.OUT, "both": iface.BOTH}[dir]
		if cfg.Direction != want {
			t.Errorf("direction=%q parsed as %v, want %v", dir, cfg.Direction, want)
		}
	}
}

func TestParseOptionsInvalidMode(t *testing.T) {
	_, err := ParseOptions(NewOptions(map[string]string{
		"address": "example.org",
		"mode":    "nonsense",
	}))
	if err == nil {
		t.Fatal("expected an error for an invalid mode")
	}
}
