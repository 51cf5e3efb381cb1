package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/scratchomised/scratchomised-sdk-go/discovery"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
)

// printer writes aligned text on a terminal and JSON lines otherwise.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	jsonl bool
}

func newPrinter(opts docopt.Opts) *printer {
	asJSON, _ := opts.Bool("--json")
	return &printer{
		w:     os.Stdout,
		jsonl: asJSON || !term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (p *printer) record(kind string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jsonl {
		fields["kind"] = kind
		fields["time"] = time.Now().Format(time.RFC3339Nano)
		b, _ := json.Marshal(fields)
		fmt.Fprintln(p.w, string(b))
		return
	}
	fmt.Fprintf(p.w, "%s %-8s", time.Now().Format("15:04:05.000"), kind)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(p.w, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(p.w)
}

func (p *printer) state(ev scratchomised.StateEvent) {
	f := map[string]any{"from": ev.OldState.String(), "to": ev.NewState.String(), "attempt": ev.Attempt}
	if ev.Delay > 0 {
		f["delay"] = ev.Delay.String()
	}
	if ev.Error != nil {
		f["error"] = ev.Error.Error()
	}
	p.record("state", f)
}

func (p *printer) refresh(ev scratchomised.ObjectsEvent, objects []scratchomised.Object) {
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, o.Name)
	}
	p.record("objects", map[string]any{"revision": ev.Revision, "count": ev.Count, "names": strings.Join(names, ", ")})
}

func (p *printer) click(ev scratchomised.ClickEvent) {
	p.record("click", map[string]any{"object": ev.ObjectID})
}

func (p *printer) err(err error) {
	p.record("error", map[string]any{"code": scratchomised.CodeOf(err).String(), "error": err.Error()})
}

func (p *printer) objects(list []scratchomised.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jsonl {
		enc := json.NewEncoder(p.w)
		for _, o := range list {
			_ = enc.Encode(map[string]any{"id": o.ID, "name": o.Name, "classes": o.Classes, "properties": o.Properties})
		}
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLASSES")
	for _, o := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ID, o.Name, strings.Join(shortClasses(o.Classes), ","))
	}
	_ = tw.Flush()
}

func (p *printer) lines(lines []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
}

func (p *printer) peers(peers []discovery.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jsonl {
		enc := json.NewEncoder(p.w)
		for _, peer := range peers {
			_ = enc.Encode(map[string]any{"instance": peer.Instance, "url": peer.Target().URL(), "text": peer.Text})
		}
		return
	}
	if len(peers) == 0 {
		fmt.Fprintln(p.w, "no peers found")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tURL")
	for _, peer := range peers {
		fmt.Fprintf(tw, "%s\t%s\n", peer.Instance, peer.Target().URL())
	}
	_ = tw.Flush()
}

// shortClasses drops the Java package prefix.
func shortClasses(classes []string) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = c[strings.LastIndex(c, ".")+1:]
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
