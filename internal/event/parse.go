package event

import (
	"bytes"
	"encoding/json"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// Parse decodes a queue message body. Numbers are kept as json.Number so the
// payload re-serializes exactly. On failure the returned Event still carries
// whatever event_id could be recovered from the body, or "" if none.
func Parse(body []byte) (Event, error) {
	var e Event
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return Event{ID: extractID(body)}, errors.WrapError(err, errors.CategoryParse, "malformed event body").
			Permanent().
			Build()
	}
	if e.Type == "" {
		return Event{ID: e.ID}, errors.ParseError("event_type is required").Build()
	}
	if e.Payload == nil {
		return Event{ID: e.ID, Type: e.Type}, errors.ParseError("payload must be an object").
			WithContext("event_type", e.Type).
			Build()
	}
	return e, nil
}

// extractID recovers event_id from a body whose other fields failed to decode.
func extractID(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	raw, ok := fields["event_id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// Marshal encodes e as a queue message body.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
