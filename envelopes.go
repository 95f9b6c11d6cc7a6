package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Envelope is one frame of the relay wire protocol, client- or relay-side.
type Envelope interface {
	Label() string
	UnmarshalJSON([]byte) error
	MarshalJSON() ([]byte, error)
}

// ParseMessage parses a raw websocket payload into one of the envelope
// types. Frames with an unknown label, and frames too malformed to carry
// one, yield nil.
func ParseMessage(message []byte) Envelope {
	firstQuote := bytes.IndexByte(message, '"')
	if firstQuote == -1 {
		return nil
	}
	secondQuote := bytes.IndexByte(message[firstQuote+1:], '"')
	if secondQuote == -1 {
		return nil
	}
	label := string(message[firstQuote+1 : firstQuote+1+secondQuote])

	var v Envelope
	switch label {
	case "EVENT":
		v = &EventEnvelope{}
	case "REQ":
		v = &ReqEnvelope{}
	case "EOSE":
		x := EOSEEnvelope("")
		v = &x
	case "CLOSE":
		v = &CloseEnvelope{}
	case "OK":
		v = &OKEnvelope{}
	case "NOTICE":
		x := NoticeEnvelope("")
		v = &x
	default:
		return nil
	}

	if err := v.UnmarshalJSON(message); err != nil {
		return nil
	}
	return v
}

// EventEnvelope is ["EVENT", <event>] going to a relay or
// ["EVENT", <sub_id>, <event>] coming from one.
type EventEnvelope struct {
	SubscriptionID *string
	Event
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
)

func (_ EventEnvelope) Label() string { return "EVENT" }

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		return easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event)
	case 3:
		v.SubscriptionID = &arr[1].Str
		return easyjson.Unmarshal([]byte(arr[2].Raw), &v.Event)
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EVENT",`)
	if v.SubscriptionID != nil {
		w.String(*v.SubscriptionID)
		w.RawByte(',')
	}
	v.Event.MarshalEasyJSON(&w)
	w.RawByte(']')
	return w.BuildBytes()
}

// ReqEnvelope is ["REQ", <sub_id>, <filter>].
type ReqEnvelope struct {
	SubscriptionID string
	Filter
}

func (_ ReqEnvelope) Label() string { return "REQ" }

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filter")
	}
	v.SubscriptionID = arr[1].Str
	return easyjson.Unmarshal([]byte(arr[2].Raw), &v.Filter)
}

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["REQ",`)
	w.String(v.SubscriptionID)
	w.RawByte(',')
	v.Filter.MarshalEasyJSON(&w)
	w.RawByte(']')
	return w.BuildBytes()
}

// CloseEnvelope is ["CLOSE", <sub_id>] when sent by a client and
// ["CLOSE", <sub_id>, <reason>] when a relay terminates a subscription.
type CloseEnvelope struct {
	SubscriptionID string
	Reason         *string
}

func (_ CloseEnvelope) Label() string { return "CLOSE" }

func (v *CloseEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		v.SubscriptionID = arr[1].Str
		return nil
	case 3:
		v.SubscriptionID = arr[1].Str
		v.Reason = &arr[2].Str
		return nil
	default:
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["CLOSE",`)
	w.String(v.SubscriptionID)
	if v.Reason != nil {
		w.RawByte(',')
		w.String(*v.Reason)
	}
	w.RawByte(']')
	return w.BuildBytes()
}

// EOSEEnvelope is ["EOSE", <sub_id>].
type EOSEEnvelope string

func (_ EOSEEnvelope) Label() string { return "EOSE" }

func (v *EOSEEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) != 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSEEnvelope(arr[1].Str)
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EOSE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

// OKEnvelope is ["OK", <event_id>, <accepted>, <reason>].
type OKEnvelope struct {
	EventID string
	OK      bool
	Reason  *string
}

func (_ OKEnvelope) Label() string { return "OK" }

func (v *OKEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Raw == "true"
	if len(arr) > 3 {
		v.Reason = &arr[3].Str
	}
	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["OK",`)
	w.String(v.EventID)
	w.RawByte(',')
	w.Bool(v.OK)
	if v.Reason != nil {
		w.RawByte(',')
		w.String(*v.Reason)
	}
	w.RawByte(']')
	return w.BuildBytes()
}

// NoticeEnvelope is ["NOTICE", <message>], a human-readable aside from the
// relay.
type NoticeEnvelope string

func (_ NoticeEnvelope) Label() string { return "NOTICE" }

func (v *NoticeEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) != 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = NoticeEnvelope(arr[1].Str)
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["NOTICE",`)
	w.Raw(json.Marshal(string(v)))
	w.RawByte(']')
	return w.BuildBytes()
}
