// Package discovery finds home-design peers on the local network over mDNS
// and lets the simulator announce itself the same way.
package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
)

const (
	Service = "_scratchomised._tcp"
	Domain  = "local."
)

// Peer is one announced endpoint.
type Peer struct {
	Instance string
	HostName string
	Port     int
	Addrs    []net.IP
	Scheme   scratchomised.Scheme
	Text     []string
}

// Target picks an address for dialing: IPv4 first, then IPv6, then the
// announced host name.
func (p Peer) Target() scratchomised.Target {
	host := strings.TrimSuffix(p.HostName, ".")
	if ip := preferredIP(p.Addrs); ip != nil {
		host = ip.String()
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = scratchomised.SchemePlain
	}
	return scratchomised.Target{Host: host, Port: p.Port, Scheme: scheme}
}

func preferredIP(addrs []net.IP) net.IP {
	for _, ip := range addrs {
		if ip.To4() != nil {
			return ip
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return nil
}

// Advertisement is a running announcement.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise announces a peer listening on port until Shutdown.
func Advertise(instance string, port int, scheme scratchomised.Scheme) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, Service, Domain, port, txtRecords(scheme), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// Browse collects peers until ctx is done. Give it a deadline.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", Service, err)
	}

	var peers []Peer
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return peers, nil
			}
			peers = merge(peers, peerFromEntry(e))
		case <-ctx.Done():
			return peers, nil
		}
	}
}

func txtRecords(scheme scratchomised.Scheme) []string {
	if scheme == "" {
		scheme = scratchomised.SchemePlain
	}
	return []string{"txtv=1", "subprotocol=" + scratchomised.Subprotocol, "scheme=" + string(scheme)}
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	p := Peer{
		Instance: e.Instance,
		HostName: e.HostName,
		Port:     e.Port,
		Text:     slices.Clone(e.Text),
	}
	p.Addrs = append(p.Addrs, e.AddrIPv4...)
	p.Addrs = append(p.Addrs, e.AddrIPv6...)
	for _, kv := range e.Text {
		if v, ok := strings.CutPrefix(kv, "scheme="); ok {
			if s, err := scratchomised.ParseScheme(v); err == nil {
				p.Scheme = s
			}
		}
	}
	return p
}

// merge replaces an earlier sighting of the same instance.
func merge(peers []Peer, p Peer) []Peer {
	for i := range peers {
		if peers[i].Instance == p.Instance {
			peers[i] = p
			return peers
		}
	}
	return append(peers, p)
}
