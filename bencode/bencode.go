// Package bencode implements the bencode format used by torrent
// descriptors and tracker responses.
//
// The decoder keeps, for every value it produces, the exact sub-slice of
// the input that value was parsed from. Digests over the original bytes
// (the info hash above all) must be computed from that recorded span:
// dict entries live in a map, so re-encoding does not reproduce the
// source key order and is not byte-identical in general.
package bencode

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies which production a Value holds. Strings come in two
// kinds: payloads that are valid UTF-8 decode as KindString, anything
// else as KindBytes. Torrent metadata mixes text fields with binary
// blobs (piece hashes, compact peer lists) under the same production,
// so the split is made here, once, instead of at every call site.
type Kind int

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
	KindInteger
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "byte string"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	}
	return "invalid"
}

// ParseError reports malformed input. Offset is the byte position in the
// original input where parsing stopped.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bencode: offset %d: %s", e.Offset, e.Reason)
}

// Value is one decoded bencode value.
//
// A Value and all its children are views into the decoded input; they
// stay valid only while the caller leaves that buffer unmodified.
type Value struct {
	kind Kind
	raw  []byte
	str  string
	bts  []byte
	num  int64
	list []Value
	dict map[string]Value
}

// Decode parses the first bencode value in data and returns it together
// with the unconsumed remainder. The format is length-prefixed
// throughout, so callers reading from a stream can buffer a complete
// value before parsing; Decode never needs more bytes than it reports
// consuming.
func Decode(data []byte) (Value, []byte, error) {
	p := &parser{data: data}
	v, err := p.value()
	if err != nil {
		return Value{}, nil, err
	}
	return v, data[p.pos:], nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) value() (Value, error) {
	if p.pos >= len(p.data) {
		return Value{}, p.errorf("unexpected end of input")
	}
	switch c := p.data[p.pos]; {
	case isDigit(c):
		return p.stringValue()
	case c == 'i':
		return p.integer()
	case c == 'l':
		return p.listValue()
	case c == 'd':
		return p.dictValue()
	default:
		return Value{}, p.errorf("no production starts with %q", c)
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (p *parser) stringValue() (Value, error) {
	start := p.pos
	length := 0
	for p.pos < len(p.data) && isDigit(p.data[p.pos]) {
		d := int(p.data[p.pos] - '0')
		if length > (math.MaxInt-d)/10 {
			return Value{}, p.errorf("string length out of range")
		}
		length = length*10 + d
		p.pos++
	}
	if p.pos >= len(p.data) || p.data[p.pos] != ':' {
		return Value{}, p.errorf("string length not followed by ':'")
	}
	p.pos++
	if length > len(p.data)-p.pos {
		return Value{}, p.errorf("string of %d bytes truncated", length)
	}
	payload := p.data[p.pos : p.pos+length]
	p.pos += length
	raw := p.data[start:p.pos]
	if utf8.Valid(payload) {
		return Value{kind: KindString, raw: raw, str: string(payload)}, nil
	}
	return Value{kind: KindBytes, raw: raw, bts: payload}, nil
}

func (p *parser) integer() (Value, error) {
	start := p.pos
	p.pos++
	numStart := p.pos
	if p.pos < len(p.data) && p.data[p.pos] == '-' {
		p.pos++
	}
	digits := 0
	for p.pos < len(p.data) && isDigit(p.data[p.pos]) {
		p.pos++
		digits++
	}
	if digits == 0 {
		return Value{}, p.errorf("integer has no digits")
	}
	if p.pos >= len(p.data) || p.data[p.pos] != 'e' {
		return Value{}, p.errorf("integer not terminated by 'e'")
	}
	n, err := strconv.ParseInt(string(p.data[numStart:p.pos]), 10, 64)
	if err != nil {
		return Value{}, p.errorf("integer out of range")
	}
	p.pos++
	return Value{kind: KindInteger, raw: p.data[start:p.pos], num: n}, nil
}

func (p *parser) listValue() (Value, error) {
	start := p.pos
	p.pos++
	var items []Value
	for {
		if p.pos >= len(p.data) {
			return Value{}, p.errorf("unterminated list")
		}
		if p.data[p.pos] == 'e' {
			p.pos++
			break
		}
		item, err := p.value()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return Value{kind: KindList, raw: p.data[start:p.pos], list: items}, nil
}

func (p *parser) dictValue() (Value, error) {
	start := p.pos
	p.pos++
	entries := map[string]Value{}
	for {
		if p.pos >= len(p.data) {
			return Value{}, p.errorf("unterminated dict")
		}
		if p.data[p.pos] == 'e' {
			p.pos++
			break
		}
		if !isDigit(p.data[p.pos]) {
			return Value{}, p.errorf("dict key must be a string, found %q", p.data[p.pos])
		}
		key, err := p.stringValue()
		if err != nil {
			return Value{}, err
		}
		if key.kind != KindString {
			return Value{}, p.errorf("dict key is not valid UTF-8")
		}
		item, err := p.value()
		if err != nil {
			return Value{}, err
		}
		entries[key.str] = item // duplicate keys: last one wins
	}
	return Value{kind: KindDict, raw: p.data[start:p.pos], dict: entries}, nil
}

// Kind reports which production the value holds.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the exact input bytes this value was parsed from. This is
// the span to hash when a digest over the source encoding is required.
func (v Value) Raw() []byte { return v.raw }

// Str returns the text of a KindString value, or "" for any other kind.
func (v Value) Str() string { return v.str }

// Bytes returns the payload of a string value of either kind. Binary
// fields such as "pieces" or "peers" occasionally happen to be valid
// UTF-8, so callers after raw payload bytes must not switch on the kind.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindBytes:
		return v.bts
	case KindString:
		return []byte(v.str)
	}
	return nil
}

// Int64 returns the value of a KindInteger, or 0 for any other kind.
func (v Value) Int64() int64 { return v.num }

// Len returns the number of elements of a list, entries of a dict, or
// payload bytes of a string.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindDict:
		return len(v.dict)
	case KindString:
		return len(v.str)
	case KindBytes:
		return len(v.bts)
	}
	return 0
}

// At returns the entry stored under key. The receiver must be a dict.
func (v Value) At(key string) (Value, error) {
	if v.kind != KindDict {
		return Value{}, fmt.Errorf("bencode: cannot index %s with a key", v.kind)
	}
	item, ok := v.dict[key]
	if !ok {
		return Value{}, fmt.Errorf("bencode: key %q not present", key)
	}
	return item, nil
}

// Index returns element i. The receiver must be a list.
func (v Value) Index(i int) (Value, error) {
	if v.kind != KindList {
		return Value{}, fmt.Errorf("bencode: cannot index %s with a position", v.kind)
	}
	if i < 0 || i >= len(v.list) {
		return Value{}, fmt.Errorf("bencode: index %d out of range", i)
	}
	return v.list[i], nil
}

// Encode writes the value in bencode form. Dict keys are written in
// sorted order, so the output is canonical: encoding a decoded value
// round-trips structurally but not necessarily byte-for-byte with the
// original input. Use Raw for the original bytes.
func (v Value) Encode(w io.Writer) error {
	switch v.kind {
	case KindBytes:
		if _, err := fmt.Fprintf(w, "%d:", len(v.bts)); err != nil {
			return err
		}
		_, err := w.Write(v.bts)
		return err
	case KindString:
		_, err := fmt.Fprintf(w, "%d:%s", len(v.str), v.str)
		return err
	case KindInteger:
		_, err := fmt.Fprintf(w, "i%de", v.num)
		return err
	case KindList:
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for _, item := range v.list {
			if err := item.Encode(w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case KindDict:
		if _, err := io.WriteString(w, "d"); err != nil {
			return err
		}
		for _, key := range v.sortedKeys() {
			if _, err := fmt.Fprintf(w, "%d:%s", len(key), key); err != nil {
				return err
			}
			if err := v.dict[key].Encode(w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	}
	return fmt.Errorf("bencode: cannot encode %s value", v.kind)
}

func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.dict))
	for k := range v.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the value for humans: binary strings as 0x-prefixed
// hex, lists in brackets, dicts in braces with sorted keys.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v Value) render(sb *strings.Builder) {
	switch v.kind {
	case KindBytes:
		sb.WriteString("0x")
		sb.WriteString(hex.EncodeToString(v.bts))
	case KindString:
		sb.WriteString(v.str)
	case KindInteger:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	case KindList:
		sb.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.render(sb)
		}
		sb.WriteByte(']')
	case KindDict:
		sb.WriteByte('{')
		for i, key := range v.sortedKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(key)
			sb.WriteString(": ")
			v.dict[key].render(sb)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString("<invalid>")
	}
}

// MarshalJSON renders the value as JSON. JSON has no byte-string form,
// so KindBytes payloads become 0x-prefixed hex strings.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.jsonValue())
}

func (v Value) jsonValue() any {
	switch v.kind {
	case KindBytes:
		return "0x" + hex.EncodeToString(v.bts)
	case KindString:
		return v.str
	case KindInteger:
		return v.num
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.jsonValue()
		}
		return items
	case KindDict:
		m := make(map[string]any, len(v.dict))
		for k, item := range v.dict {
			m[k] = item.jsonValue()
		}
		return m
	}
	return nil
}
