package server

import "github.com/dmap-io/dmap/rpc/common"

// Dispatcher turns one wire Message into the corresponding
// chunk.Coordinator or chord.Node call and back into a response
// Message. Kept as an interface (one Handle method taking a request and
// returning a response) so tests can substitute a fake dispatcher
// without standing up a full tablemgr.Manager.
type Dispatcher interface {
	Handle(req *common.Message) (resp *common.Message)
}
