package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/dmap-io/dmap/rpc/common"
)

// NewBinarySerializer creates a new serializer using a compact binary
// format: a one-byte MsgType header followed by the gob encoding of the
// remaining fields.
//
// A fixed-width bit-flag layout (one flag bit per optional field,
// length-prefixed strings/byte slices) fits a flat Key/Value/ExpireIn/...
// message shape; dmap's Message instead carries nested structures
// (record.Record with its Trackees map, []peer.Peer slices) that don't
// reduce to a handful of fixed-width fields, so this implementation
// keeps only the header-byte idea (cheap dispatch without decoding the
// body) and lets gob handle the variable-shaped remainder.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

type binarySerializerImpl struct{}

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.MsgType))
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("binary serializer: encode body: %w", err)
	}
	return buf.Bytes(), nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 1 {
		return fmt.Errorf("binary serializer: data too short for message header")
	}
	msgType := common.MessageType(data[0])
	dec := gob.NewDecoder(bytes.NewReader(data[1:]))
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("binary serializer: decode body: %w", err)
	}
	msg.MsgType = msgType
	return nil
}
