package serializer

import (
	"testing"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	chunkID := record.NewID()
	smallRecord := record.Record{ID: record.NewID(), ChunkID: chunkID, Insert: ltime.Time(1), Payload: []byte("v")}
	mediumRecord := record.Record{ID: record.NewID(), ChunkID: chunkID, Insert: ltime.Time(2), Payload: []byte("medium length payload for testing serialization")}
	largeRecord := record.Record{ID: record.NewID(), ChunkID: chunkID, Insert: ltime.Time(3), Payload: make([]byte, 1024)}
	veryLargeRecord := record.Record{ID: record.NewID(), ChunkID: chunkID, Insert: ltime.Time(4), Payload: make([]byte, 1024*16)}

	return map[string]common.Message{
		"Empty":        {MsgType: common.MsgSuccess},
		"LockRequest":  *common.NewLockRequest("accounts", chunkID, peer.New("10.0.0.1:9000")),
		"SmallInsert":  *common.NewInsertRequest("accounts", chunkID, smallRecord),
		"MediumInsert": *common.NewInsertRequest("accounts", chunkID, mediumRecord),
		"LargeInsert":  *common.NewInsertRequest("accounts", chunkID, largeRecord),
		"VeryLargeInsert": *common.NewInsertRequest("accounts", chunkID, veryLargeRecord),
		"SeekPeersResponse": *common.NewSeekPeersResponse([]peer.Peer{
			peer.New("10.0.0.2:9000"), peer.New("10.0.0.3:9000"), peer.New("10.0.0.4:9000"),
		}),
		"ErrorMessage": *common.NewErrorResponse(common.MsgInsert, common.ErrFromMessage(&common.Message{
			Err: "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		})),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := s.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()
	serializedData := make(map[string]map[string][]byte)

	for name, factory := range testSerializers {
		s := factory()
		serializedData[name] = make(map[string][]byte)

		for msgName, msg := range messages {
			data, err := s.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			serializedData[name][msgName] = data
		}
	}

	for name, factory := range testSerializers {
		for msgName := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				data := serializedData[name][msgName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					err := s.Deserialize(data, &msg)
					if err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		s := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := s.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
