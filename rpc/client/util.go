package client

import (
	"fmt"

	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/rpc/common"
	"github.com/dmap-io/dmap/rpc/serializer"
	"github.com/dmap-io/dmap/rpc/transport"
)

var Logger = logging.New("rpc-client")

// invokeRPCRequest serializes req, sends it over t (shardId is always 0
// for dmap's own protocol - see rpc/common.Message's doc comment on why
// routing lives in the envelope, not the transport's shard namespace),
// deserializes the response, and reconstructs a typed error from
// Err/ErrKind if the remote end reported a failure.
func invokeRPCRequest(shardId uint64, req *common.Message, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := s.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("rpc client: serialize request: %w", err)
	}

	respBytes, err := t.Send(shardId, reqBytes)
	if err != nil {
		return nil, fmt.Errorf("rpc client: send request: %w", err)
	}

	resp := &common.Message{}
	if err := s.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc client: deserialize response: %w", err)
	}

	if resp.Err != "" {
		return nil, common.ErrFromMessage(resp)
	}
	return resp, nil
}
