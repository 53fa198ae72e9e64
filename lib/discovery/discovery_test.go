package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dmap-io/dmap/lib/peer"
)

func TestAnnounceGetPeersLeave(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "peers.txt"))
	ctx := context.Background()

	a := peer.New("127.0.0.1:9001")
	b := peer.New("127.0.0.1:9002")

	if err := d.Announce(ctx, a); err != nil {
		t.Fatalf("announce a: %v", err)
	}
	if err := d.Announce(ctx, b); err != nil {
		t.Fatalf("announce b: %v", err)
	}
	if err := d.Announce(ctx, a); err != nil {
		t.Fatalf("re-announce a: %v", err)
	}

	peers, err := d.GetPeers(ctx)
	if err != nil {
		t.Fatalf("getpeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d: %v", len(peers), peers)
	}

	if err := d.Leave(ctx, a); err != nil {
		t.Fatalf("leave a: %v", err)
	}
	peers, err = d.GetPeers(ctx)
	if err != nil {
		t.Fatalf("getpeers after leave: %v", err)
	}
	if len(peers) != 1 || !peers[0].Equal(b) {
		t.Fatalf("expected only b to remain, got %v", peers)
	}
}
