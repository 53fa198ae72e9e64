package discovery

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/lib/peer"
)

var log = logging.New("discovery")

// Discovery is the peer-address-list abstraction: {announce, getPeers,
// leave}. Each call takes the file lock itself (exclusive for
// Announce/Leave, shared for GetPeers); no separate lock/unlock is
// exposed, so Announce and Leave are each a single atomic mutation.
type Discovery interface {
	// Announce appends self to the shared list, creating the file if
	// necessary. It is idempotent: announcing twice is a no-op.
	Announce(ctx context.Context, self peer.Peer) error
	// GetPeers returns every peer currently listed, self included if
	// present.
	GetPeers(ctx context.Context) ([]peer.Peer, error)
	// Leave removes self from the shared list.
	Leave(ctx context.Context, self peer.Peer) error
}

type fileDiscovery struct {
	path string
}

// New creates a Discovery backed by the file at path.
func New(path string) Discovery {
	return &fileDiscovery{path: path}
}

func (d *fileDiscovery) lock(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(d.path + ".lock")
	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return nil, err
	}
	_ = ctx
	return fl, nil
}

func (d *fileDiscovery) readAll() ([]peer.Peer, error) {
	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var peers []peer.Peer
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		peers = append(peers, peer.New(line))
	}
	return peers, scanner.Err()
}

func (d *fileDiscovery) writeAll(peers []peer.Peer) error {
	tmp := d.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range peers {
		if _, err := w.WriteString(p.Addr + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *fileDiscovery) Announce(ctx context.Context, self peer.Peer) error {
	fl, err := d.lock(ctx, true)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	peers, err := d.readAll()
	if err != nil {
		return err
	}
	for _, p := range peers {
		if p.Equal(self) {
			return nil
		}
	}
	peers = append(peers, self)
	log.Infof("announcing self %s, %d peers known", self, len(peers))
	return d.writeAll(peers)
}

func (d *fileDiscovery) GetPeers(ctx context.Context) ([]peer.Peer, error) {
	fl, err := d.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()
	return d.readAll()
}

func (d *fileDiscovery) Leave(ctx context.Context, self peer.Peer) error {
	fl, err := d.lock(ctx, true)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	peers, err := d.readAll()
	if err != nil {
		return err
	}
	out := peers[:0]
	for _, p := range peers {
		if !p.Equal(self) {
			out = append(out, p)
		}
	}
	log.Infof("%s leaving, %d peers remain", self, len(out))
	return d.writeAll(out)
}
