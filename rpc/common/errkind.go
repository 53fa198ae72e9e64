package common

import "github.com/dmap-io/dmap/dmaperr"

// ErrKindOf extracts err's dmaperr.Kind, if it is (or wraps) a
// *dmaperr.Error, so a response's ErrKind field can preserve it across
// the wire.
func ErrKindOf(err error) (dmaperr.Kind, bool) {
	for k := dmaperr.KindConflict; k <= dmaperr.KindInvariant; k++ {
		if dmaperr.Is(err, k) {
			return k, true
		}
	}
	return 0, false
}

// ErrFromMessage reconstructs a dmaperr.Error from a response's Err/ErrKind
// fields, falling back to a plain KindTransport error (the RPC itself
// failed, not a domain-level refusal) when ErrKind is empty or
// unrecognized.
func ErrFromMessage(msg *Message) error {
	if msg.Err == "" {
		return nil
	}
	kind, ok := kindFromString(msg.ErrKind)
	if !ok {
		kind = dmaperr.KindTransport
	}
	return dmaperr.New(kind, "%s", msg.Err)
}

func kindFromString(s string) (dmaperr.Kind, bool) {
	for k := dmaperr.KindConflict; k <= dmaperr.KindInvariant; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
