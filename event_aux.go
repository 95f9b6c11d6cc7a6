package nostr

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// MarshalJSON returns the NIP-01 JSON object encoding of the event.
func (evt Event) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	evt.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

func (evt *Event) UnmarshalJSON(data []byte) error {
	return easyjson.Unmarshal(data, evt)
}

func (evt Event) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(evt.ID)
	w.RawString(`,"pubkey":`)
	w.String(evt.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(int64(evt.CreatedAt))
	w.RawString(`,"kind":`)
	w.Int(evt.Kind)
	w.RawString(`,"tags":`)
	if evt.Tags == nil {
		w.RawString(`[]`)
	} else {
		w.Raw(evt.Tags.marshalTo(nil), nil)
	}
	w.RawString(`,"content":`)
	w.String(evt.Content)
	w.RawString(`,"sig":`)
	w.String(evt.Sig)
	w.RawByte('}')
}

func (evt *Event) UnmarshalEasyJSON(in *jlexer.Lexer) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch key {
		case "id":
			evt.ID = in.String()
		case "pubkey":
			evt.PubKey = in.String()
		case "created_at":
			evt.CreatedAt = Timestamp(in.Int64())
		case "kind":
			evt.Kind = in.Int()
		case "tags":
			evt.Tags.UnmarshalEasyJSON(in)
		case "content":
			evt.Content = in.String()
		case "sig":
			evt.Sig = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}
