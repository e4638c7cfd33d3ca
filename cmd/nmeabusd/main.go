// Command nmeabusd is a minimal daemon entry point wiring tcp.ParseOptions,
// tcp.Init and the prometheus exporter together for a single configured
// interface. It stands in for the generic config/engine layer spec.md §1
// scopes out: a real deployment would read many such stanzas from a config
// file and run them concurrently, feeding a shared sentence queue and filter
// set instead of this example's stdout sink.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nmeabus/nmeabus/filter"
	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/pkg/exporter"
	"github.com/nmeabus/nmeabus/tag"
	"github.com/nmeabus/nmeabus/tcp"
)

func main() {
	name := flag.String("name", "tcp0", "interface name")
	address := flag.String("address", "", "remote host (client mode)")
	mode := flag.String("mode", "client", "client or server")
	direction := flag.String("direction", "both", "in, out, or both")
	persist := flag.String("persist", "no", "yes or no")
	ipersist := flag.String("ipersist", "no", "yes or no")
	gpsd := flag.String("gpsd", "no", "yes or no")
	metricsAddr := flag.String("metrics-addr", ":9110", "address to serve /metrics on")
	flag.Parse()

	logger := logrus.New()
	log := catalog.New(logger).With(logrus.Fields{"iface": *name})

	hostname, _ := os.Hostname()
	metrics := exporter.NewInterfaceCollector("nmeabus", []string{"iface"}, prometheus.Labels{"hostname": hostname})
	prometheus.MustRegister(metrics)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Errf("metrics server exited: %v", http.ListenAndServe(*metricsAddr, nil))
	}()

	opts := tcp.NewOptions(map[string]string{
		"mode":      *mode,
		"address":   *address,
		"direction": *direction,
		"persist":   *persist,
		"ipersist":  *ipersist,
		"gpsd":      *gpsd,
	})

	cfg, err := tcp.ParseOptions(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nmeabusd: %v\n", err)
		os.Exit(1)
	}
	cfg.Metrics = metrics

	result, err := tcp.Init(cfg, 1, *name, 64, filter.New(), tag.Flags(0), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nmeabusd: %v\n", err)
		os.Exit(1)
	}

	if result.Server != nil {
		ln, err := net.Listen("tcp", result.ListenAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nmeabusd: listen: %v\n", err)
			os.Exit(1)
		}
		result.Server.InSink = func(b []byte) {
			fmt.Print(strings.TrimRight(string(b), "\r\n") + "\n")
		}
		log.Errf("server exited: %v", result.Server.Serve(ln))
		return
	}

	done := make(chan struct{}, len(result.Interfaces))
	for _, i := range result.Interfaces {
		i := i
		i.Sink = func(b []byte) {
			fmt.Print(strings.TrimRight(string(b), "\r\n") + "\n")
		}
		go func() {
			i.Run()
			done <- struct{}{}
		}()
	}
	for range result.Interfaces {
		<-done
	}
}
