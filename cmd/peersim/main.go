package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/scratchomised/scratchomised-sdk-go/discovery"
	"github.com/scratchomised/scratchomised-sdk-go/peersim"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
)

const Version = "0.3.0"

func main() {
	usage := `Simulated home-design peer.

Serves the scratchomised websocket at / and a control API under /api.

Usage:
    peersim [--addr=<addr>] [--catalog=<path>] [--advertise] [--name=<name>] [--v=<level>]
    peersim -h | --help
    peersim --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --addr=<addr>        Listen address [default: :55125].
    --catalog=<path>     YAML catalogue of objects, built-in flat if omitted.
    --advertise          Announce the simulator over mDNS.
    --name=<name>        mDNS instance name [default: peersim].
    --v=<level>          Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}
	_ = flag.Set("logtostderr", "true")
	if v, _ := opts.String("--v"); v != "" {
		_ = flag.Set("v", v)
	}
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Errorf("peersim: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	cat := peersim.DefaultCatalog()
	if path, _ := opts.String("--catalog"); path != "" {
		var err error
		if cat, err = peersim.LoadCatalog(path); err != nil {
			return err
		}
	}
	sim := peersim.New(cat)

	addr, _ := opts.String("--addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: sim.Handler(), ReadHeaderTimeout: 10 * time.Second}

	if advertise, _ := opts.Bool("--advertise"); advertise {
		name, _ := opts.String("--name")
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(name, port, scratchomised.SchemePlain)
		if err != nil {
			return err
		}
		defer ad.Shutdown()
		glog.Infof("peersim: advertising %s as %q on port %d", discovery.Service, name, port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	glog.Infof("peersim: serving %d objects on %s", len(cat.Objects), ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	glog.Info("peersim: shutting down")
	sim.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
