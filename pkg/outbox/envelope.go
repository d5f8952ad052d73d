package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var errMissingEnvelopeFields = errors.New("envelope missing eventId or data")

// ActorRef names the shopper or admin behind an event. Cron jobs and
// webhook reconciliation leave it nil.
type ActorRef struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// PayloadEnvelope wraps every outbox payload. EventID is what consumers
// dedupe on; Data is the versioned event body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload and checks the fields consumers
// rely on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, err
	}
	data := bytes.TrimSpace(env.Data)
	if env.EventID == "" || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errMissingEnvelopeFields
	}
	return env, nil
}
