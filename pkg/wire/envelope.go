package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Envelope is the outer transport frame a collaborating mesh/IP transport
// delivers to the engine. Unlike the inner signed bytes (which are a fixed,
// hand-rolled canonical encoding so a signature cannot be forged by
// re-ordering self-describing fields), the envelope itself carries no
// authenticity weight — it is bookkeeping for routing and deduplication —
// so a self-describing format is safe here, mirroring how the teacher's
// pkg/protocol.Handler wraps its round messages in a cbor-encoded Message.
type Envelope struct {
	// EventID correlates this envelope with any outbound telemetry/event
	// stream a collaborator may maintain; it carries no protocol meaning.
	EventID uuid.UUID `cbor:"1,keyasint"`
	// Raw holds the exact bytes produced by Encode: the canonical signed
	// message plus its trailer. The engine never trusts anything in the
	// envelope above Raw.
	Raw []byte `cbor:"2,keyasint"`
}

// NewEnvelope wraps raw signed-message bytes for transport, stamping a
// fresh correlation ID.
func NewEnvelope(raw []byte) Envelope {
	return Envelope{EventID: uuid.New(), Raw: raw}
}

// MarshalEnvelope encodes an Envelope to cbor bytes.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	out, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return out, nil
}

// UnmarshalEnvelope decodes cbor bytes into an Envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	return e, nil
}
