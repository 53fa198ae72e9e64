package client

import (
	"sync"

	"github.com/dmap-io/dmap/rpc/common"
	"github.com/dmap-io/dmap/rpc/serializer"
	"github.com/dmap-io/dmap/rpc/transport"
)

// Dialer constructs a fresh, unconnected client transport instance -
// e.g. tcp.NewTCPClientTransport. Peers calls it once per distinct
// target address.
type Dialer func() transport.IRPCClientTransport

// Peers is a lazily-populated, per-address connection cache. Every
// method on lib/chunk/legacy.Transport and lib/chord.Transport takes an
// explicit target peer.Peer per call, rather than round-robining over a
// fixed endpoint pool connected once at startup - dmap's peer set changes
// at runtime as chunks gain and lose replicas, so connections are opened
// on first use and reused after that, one per distinct address, using
// IRPCClientTransport.Connect/Send/Close at the granularity of a single
// endpoint.
type Peers struct {
	mu    sync.Mutex
	conns map[string]transport.IRPCClientTransport

	dial       Dialer
	cfgTmpl    common.ClientConfig
	serializer serializer.IRPCSerializer
}

// NewPeers creates a connection cache. cfgTmpl's Endpoints field is
// ignored (and overwritten per-target); every other field (timeouts,
// retry count, connections-per-endpoint) applies to every connection
// Peers opens.
func NewPeers(dial Dialer, cfgTmpl common.ClientConfig, s serializer.IRPCSerializer) *Peers {
	return &Peers{
		conns:      make(map[string]transport.IRPCClientTransport),
		dial:       dial,
		cfgTmpl:    cfgTmpl,
		serializer: s,
	}
}

func (p *Peers) connectionFor(addr string) (transport.IRPCClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.conns[addr]; ok {
		return t, nil
	}

	t := p.dial()
	cfg := p.cfgTmpl
	cfg.Endpoints = []string{addr}
	if err := t.Connect(cfg); err != nil {
		return nil, err
	}
	p.conns[addr] = t
	return t, nil
}

// Send delivers req to target and returns its deserialized response,
// reconstructing a typed error (see common.ErrFromMessage) if target
// reported a failure.
func (p *Peers) Send(target string, req *common.Message) (*common.Message, error) {
	t, err := p.connectionFor(target)
	if err != nil {
		return nil, err
	}
	return invokeRPCRequest(0, req, t, p.serializer)
}

// Close disconnects every cached connection.
func (p *Peers) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, t := range p.conns {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, addr)
	}
	return firstErr
}
