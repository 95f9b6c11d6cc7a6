package nostr

import (
	"sort"
	"strings"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

func (f Filter) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	f.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	return easyjson.Unmarshal(data, f)
}

func (f Filter) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	first := true
	comma := func() {
		if first {
			first = false
		} else {
			w.RawByte(',')
		}
	}

	writeStrings := func(name string, values []string) {
		comma()
		w.String(name)
		w.RawByte(':')
		w.RawByte('[')
		for i, v := range values {
			if i > 0 {
				w.RawByte(',')
			}
			w.String(v)
		}
		w.RawByte(']')
	}

	if f.IDs != nil {
		writeStrings("ids", f.IDs)
	}
	if f.Kinds != nil {
		comma()
		w.RawString(`"kinds":[`)
		for i, k := range f.Kinds {
			if i > 0 {
				w.RawByte(',')
			}
			w.Int(k)
		}
		w.RawByte(']')
	}
	if f.Authors != nil {
		writeStrings("authors", f.Authors)
	}
	if len(f.Tags) > 0 {
		// sorted so frames are deterministic
		names := make([]string, 0, len(f.Tags))
		for name := range f.Tags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			writeStrings("#"+name, f.Tags[name])
		}
	}
	if f.Since != nil {
		comma()
		w.RawString(`"since":`)
		w.Int64(int64(*f.Since))
	}
	if f.Until != nil {
		comma()
		w.RawString(`"until":`)
		w.Int64(int64(*f.Until))
	}
	if f.Limit > 0 {
		comma()
		w.RawString(`"limit":`)
		w.Int(f.Limit)
	}
	w.RawByte('}')
}

func (f *Filter) UnmarshalEasyJSON(in *jlexer.Lexer) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch {
		case key == "ids":
			f.IDs = readStringArray(in)
		case key == "kinds":
			f.Kinds = readIntArray(in)
		case key == "authors":
			f.Authors = readStringArray(in)
		case key == "since":
			ts := Timestamp(in.Int64())
			f.Since = &ts
		case key == "until":
			ts := Timestamp(in.Int64())
			f.Until = &ts
		case key == "limit":
			f.Limit = in.Int()
		case strings.HasPrefix(key, "#"):
			if f.Tags == nil {
				f.Tags = make(TagMap)
			}
			// the field name shares the lexer's buffer, so the retained
			// map key must be a copy
			f.Tags[strings.Clone(key[1:])] = readStringArray(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func readStringArray(in *jlexer.Lexer) []string {
	if in.IsNull() {
		in.Skip()
		return nil
	}
	out := make([]string, 0, 8)
	in.Delim('[')
	for !in.IsDelim(']') {
		out = append(out, in.String())
		in.WantComma()
	}
	in.Delim(']')
	return out
}

func readIntArray(in *jlexer.Lexer) []int {
	if in.IsNull() {
		in.Skip()
		return nil
	}
	out := make([]int, 0, 8)
	in.Delim('[')
	for !in.IsDelim(']') {
		out = append(out, in.Int())
		in.WantComma()
	}
	in.Delim(']')
	return out
}
