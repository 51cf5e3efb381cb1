package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/scratchomised/scratchomised-sdk-go/discovery"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
)

const Version = "0.3.0"

func main() {
	usage := `Talk to a home-design peer over the scratchomised protocol.

The default peer is ws://localhost:55125.

Usage:
    scratchomised watch [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--json] [--v=<level>]
    scratchomised objects [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--class=<class>] [--json] [--v=<level>]
    scratchomised properties [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--v=<level>]
    scratchomised set <object> <property> <value> [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--v=<level>]
    scratchomised light <object> <state> [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--v=<level>]
    scratchomised clicks [--config=<path>] [--host=<host>] [--port=<port>] [--scheme=<scheme>] [--count=<n>] [--v=<level>]
    scratchomised discover [--timeout=<duration>] [--json] [--v=<level>]
    scratchomised -h | --help
    scratchomised --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --config=<path>         YAML session config.
    --host=<host>           Peer host, overrides the config.
    --port=<port>           Peer port, overrides the config.
    --scheme=<scheme>       ws or wss, overrides the config.
    --class=<class>         Only list objects of this peer class.
    --json                  Print JSON lines even on a terminal.
    --count=<n>             Exit after this many clicks [default: 0].
    --timeout=<duration>    How long to browse for peers [default: 3s].
    --v=<level>             Log verbosity, 2 shows protocol traffic [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}
	setupLogging(opts)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(opts)

	if watch_, _ := opts.Bool("watch"); watch_ {
		err = watch(ctx, opts, out)
	} else if objects_, _ := opts.Bool("objects"); objects_ {
		err = objects(ctx, opts, out)
	} else if properties_, _ := opts.Bool("properties"); properties_ {
		err = properties(ctx, opts, out)
	} else if set_, _ := opts.Bool("set"); set_ {
		err = set(ctx, opts)
	} else if light_, _ := opts.Bool("light"); light_ {
		err = light(ctx, opts)
	} else if clicks_, _ := opts.Bool("clicks"); clicks_ {
		err = clicks(ctx, opts, out)
	} else if discover_, _ := opts.Bool("discover"); discover_ {
		err = discover(ctx, opts, out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func setupLogging(opts docopt.Opts) {
	_ = flag.Set("logtostderr", "true")
	if v, _ := opts.String("--v"); v != "" {
		_ = flag.Set("v", v)
	}
}

func loadConfig(opts docopt.Opts) (scratchomised.Config, error) {
	cfg := scratchomised.DefaultConfig()
	if path, _ := opts.String("--config"); path != "" {
		var err error
		if cfg, err = scratchomised.LoadConfigFile(path); err != nil {
			return cfg, err
		}
	}
	if host, _ := opts.String("--host"); host != "" {
		cfg.Target.Host = host
	}
	if port, _ := opts.String("--port"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("invalid port %q", port)
		}
		cfg.Target.Port = n
	}
	if scheme, _ := opts.String("--scheme"); scheme != "" {
		s, err := scratchomised.ParseScheme(scheme)
		if err != nil {
			return cfg, err
		}
		cfg.Target.Scheme = s
	}
	return cfg, cfg.Validate()
}

// open connects and, when wantObjects is set, waits for the first refresh.
func open(ctx context.Context, opts docopt.Opts, wantObjects bool) (*scratchomised.Session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	s, err := scratchomised.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	s.SetLogger(scratchomised.GlogLogger{})

	refreshed := make(chan struct{}, 1)
	s.OnObjects(func(scratchomised.ObjectsEvent) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	waitCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout+2*time.Second)
	defer cancel()
	if err := s.Connect(waitCtx, cfg.Target); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.WaitConnected(waitCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Target, err)
	}
	if wantObjects {
		select {
		case <-refreshed:
		case <-waitCtx.Done():
			_ = s.Close()
			return nil, fmt.Errorf("no objects from %s", cfg.Target)
		}
	}
	return s, nil
}

func watch(ctx context.Context, opts docopt.Opts, out *printer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := scratchomised.NewSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	s.SetLogger(scratchomised.GlogLogger{})

	s.OnStateChanged(func(ev scratchomised.StateEvent) { out.state(ev) })
	s.OnObjects(func(ev scratchomised.ObjectsEvent) { out.refresh(ev, s.Objects().All()) })
	s.OnClick(func(ev scratchomised.ClickEvent) {
		// watch is the only reader, so consume to keep the ledger empty
		s.ConsumeClick(ev.ObjectID)
		out.click(ev)
	})
	s.OnError(func(err error) { out.err(err) })

	if err := s.Connect(ctx, cfg.Target); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func objects(ctx context.Context, opts docopt.Opts, out *printer) error {
	s, err := open(ctx, opts, true)
	if err != nil {
		return err
	}
	defer s.Close()

	list := s.Objects().All()
	if class, _ := opts.String("--class"); class != "" {
		list = s.Objects().ByClass(class)
	}
	out.objects(list)
	return nil
}

func properties(ctx context.Context, opts docopt.Opts, out *printer) error {
	s, err := open(ctx, opts, true)
	if err != nil {
		return err
	}
	defer s.Close()
	out.lines(s.Objects().PropertyNames())
	return nil
}

func set(ctx context.Context, opts docopt.Opts) error {
	object, _ := opts.String("<object>")
	property, _ := opts.String("<property>")
	value, _ := opts.String("<value>")

	s, err := open(ctx, opts, true)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.DefineProperty(object, property, value); err != nil {
		return err
	}
	return awaitRefresh(ctx, s)
}

func light(ctx context.Context, opts docopt.Opts) error {
	object, _ := opts.String("<object>")
	state, _ := opts.String("<state>")

	s, err := open(ctx, opts, true)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.SetLightState(object, state); err != nil {
		return err
	}
	if err := awaitRefresh(ctx, s); err != nil {
		return err
	}
	fmt.Printf("%s lit=%v\n", object, s.IsLit(object))
	return nil
}

// awaitRefresh gives the peer a moment to publish the change, so the
// command does not exit before the frame is written.
func awaitRefresh(ctx context.Context, s *scratchomised.Session) error {
	rev := s.Objects().Revision()
	deadline := time.Now().Add(2 * time.Second)
	for s.Objects().Revision() == rev {
		if time.Now().After(deadline) {
			glog.Warning("peer did not republish objects")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

func clicks(ctx context.Context, opts docopt.Opts, out *printer) error {
	limit := 0
	if n, _ := opts.String("--count"); n != "" {
		var err error
		if limit, err = strconv.Atoi(n); err != nil {
			return fmt.Errorf("invalid count %q", n)
		}
	}
	s, err := open(ctx, opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	seen := make(chan scratchomised.ClickEvent, 16)
	s.OnClick(func(ev scratchomised.ClickEvent) {
		select {
		case seen <- ev:
		default:
		}
	})
	for count := 0; limit == 0 || count < limit; count++ {
		select {
		case ev := <-seen:
			s.ConsumeClick(ev.ObjectID)
			out.click(ev)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func discover(ctx context.Context, opts docopt.Opts, out *printer) error {
	timeout := 3 * time.Second
	if v, _ := opts.String("--timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q", v)
		}
		timeout = d
	}
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	peers, err := discovery.Browse(browseCtx)
	if err != nil {
		return err
	}
	out.peers(peers)
	return nil
}
