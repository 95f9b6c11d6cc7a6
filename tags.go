package nostr

import (
	"slices"

	"github.com/mailru/easyjson/jlexer"
)

// Tag is an ordered list of strings whose first element names the tag.
type Tag []string

func (tag Tag) Clone() Tag {
	clone := make(Tag, len(tag))
	copy(clone, tag)
	return clone
}

// marshalTo appends the tag to dst as a JSON array of strings.
func (tag Tag) marshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, s := range tag {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = escapeString(dst, s)
	}
	return append(dst, ']')
}

type Tags []Tag

// Find returns the first tag with the given name that also carries a value
// (i.e. has at least 2 items), or nil.
func (tags Tags) Find(key string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key {
			return v
		}
	}
	return nil
}

// FindWithValue is like Find, but also requires the value to match.
func (tags Tags) FindWithValue(key, value string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key && v[1] == value {
			return v
		}
	}
	return nil
}

// ContainsAny reports whether any tag named tagName carries one of values.
func (tags Tags) ContainsAny(tagName string, values []string) bool {
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != tagName {
			continue
		}
		if slices.Contains(values, tag[1]) {
			return true
		}
	}
	return false
}

func (tags Tags) Clone() Tags {
	clone := make(Tags, len(tags))
	for i := range tags {
		clone[i] = tags[i].Clone()
	}
	return clone
}

// marshalTo appends the tags to dst as a JSON array of arrays.
func (tags Tags) marshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tag := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tag.marshalTo(dst)
	}
	return append(dst, ']')
}

func (tags *Tags) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		*tags = nil
		return
	}
	*tags = make(Tags, 0, 4)
	in.Delim('[')
	for !in.IsDelim(']') {
		tag := make(Tag, 0, 3)
		in.Delim('[')
		for !in.IsDelim(']') {
			tag = append(tag, in.String())
			in.WantComma()
		}
		in.Delim(']')
		*tags = append(*tags, tag)
		in.WantComma()
	}
	in.Delim(']')
}
