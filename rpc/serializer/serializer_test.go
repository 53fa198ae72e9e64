package serializer

import (
	"reflect"
	"testing"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	chunkID := record.NewID()
	rec := record.Record{
		ID:      record.NewID(),
		ChunkID: chunkID,
		Insert:  ltime.Time(7),
		Payload: []byte("payload-bytes"),
		Trackees: record.Trackees{
			"users": {record.NewID(): struct{}{}},
		},
	}

	return []common.Message{
		{MsgType: common.MsgSuccess},

		*common.NewLockRequest("accounts", chunkID, peer.New("10.0.0.1:9000")),

		*common.NewLockResponse(true),

		*common.NewErrorResponse(common.MsgInsert, common.ErrFromMessage(&common.Message{Err: "conflict", ErrKind: "conflict"})),

		*common.NewInsertRequest("accounts", chunkID, rec),

		*common.NewFindSuccessorRequest("accounts", peer.HashKey("10.0.0.2:9000")),

		*common.NewFindSuccessorResponse(peer.New("10.0.0.3:9000")),

		*common.NewSeekPeersResponse([]peer.Peer{peer.New("10.0.0.4:9000"), peer.New("10.0.0.5:9000")}),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			for i, msg := range messages {
				data, err := s.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := s.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type round-trips with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			for msgType := common.MsgSuccess; msgType <= common.MsgChordSeekPeers; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := s.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				if err := s.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	s := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{name: "Empty data", data: []byte{}, expectError: true},
		{name: "Header only, empty gob body", data: []byte{1}, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := s.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
