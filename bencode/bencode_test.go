package bencode

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeString(t *testing.T) {
	v, rest, err := Decode([]byte("5:helloXY"))
	require.NoError(t, err)
	require.Equal(t, KindString, v.Kind())
	require.Equal(t, "hello", v.Str())
	require.Equal(t, []byte("5:hello"), v.Raw())
	require.Equal(t, []byte("XY"), rest)
}

func TestDecodeMultibyteString(t *testing.T) {
	// "café" is five bytes but four runes; still valid UTF-8.
	v, _, err := Decode([]byte("5:café"))
	require.NoError(t, err)
	require.Equal(t, KindString, v.Kind())
	require.Equal(t, "café", v.Str())
}

func TestDecodeBinaryString(t *testing.T) {
	v, _, err := Decode([]byte{'3', ':', 0xff, 0x00, 0xab})
	require.NoError(t, err)
	require.Equal(t, KindBytes, v.Kind())
	require.Equal(t, []byte{0xff, 0x00, 0xab}, v.Bytes())
	require.Equal(t, "0xff00ab", v.String())
}

func TestDecodeInteger(t *testing.T) {
	v, _, err := Decode([]byte("i52e"))
	require.NoError(t, err)
	require.Equal(t, KindInteger, v.Kind())
	require.EqualValues(t, 52, v.Int64())

	v, _, err = Decode([]byte("i-52e"))
	require.NoError(t, err)
	require.EqualValues(t, -52, v.Int64())

	v, _, err = Decode([]byte("i0e"))
	require.NoError(t, err)
	require.EqualValues(t, 0, v.Int64())
}

func TestDecodeList(t *testing.T) {
	v, rest, err := Decode([]byte("l5:helloi52ee"))
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, KindList, v.Kind())
	require.Equal(t, 2, v.Len())

	first, err := v.Index(0)
	require.NoError(t, err)
	require.Equal(t, "hello", first.Str())

	second, err := v.Index(1)
	require.NoError(t, err)
	require.EqualValues(t, 52, second.Int64())

	_, err = v.Index(2)
	require.Error(t, err)
}

func TestDecodeDict(t *testing.T) {
	v, _, err := Decode([]byte("d3:foo3:bar5:helloi52ee"))
	require.NoError(t, err)
	require.Equal(t, KindDict, v.Kind())

	foo, err := v.At("foo")
	require.NoError(t, err)
	require.Equal(t, "bar", foo.Str())

	hello, err := v.At("hello")
	require.NoError(t, err)
	require.EqualValues(t, 52, hello.Int64())

	_, err = v.At("nope")
	require.Error(t, err)
}

func TestDecodeNested(t *testing.T) {
	v, _, err := Decode([]byte("d4:spaml1:a1:bee"))
	require.NoError(t, err)

	spam, err := v.At("spam")
	require.NoError(t, err)
	require.Equal(t, KindList, spam.Kind())
	require.Equal(t, 2, spam.Len())
}

func TestDecodeDuplicateKeyLastWins(t *testing.T) {
	v, _, err := Decode([]byte("d1:ai1e1:ai2ee"))
	require.NoError(t, err)

	a, err := v.At("a")
	require.NoError(t, err)
	require.EqualValues(t, 2, a.Int64())
}

func TestSpanCoversExactInput(t *testing.T) {
	input := []byte("d4:infod6:lengthi100eee")
	v, _, err := Decode(input)
	require.NoError(t, err)

	info, err := v.At("info")
	require.NoError(t, err)
	require.Equal(t, []byte("d6:lengthi100ee"), info.Raw())

	// The span is a self-contained encoding of the sub-value.
	again, rest, err := Decode(info.Raw())
	require.NoError(t, err)
	require.Empty(t, rest)
	length, err := again.At("length")
	require.NoError(t, err)
	require.EqualValues(t, 100, length.Int64())
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no production", "x"},
		{"truncated string", "5:abc"},
		{"missing colon", "5abc"},
		{"integer no digits", "ie"},
		{"integer bare minus", "i-e"},
		{"integer unterminated", "i42"},
		{"integer overflow", "i9223372036854775808e"},
		{"unterminated list", "l5:hello"},
		{"unterminated dict", "d3:foo3:bar"},
		{"non-string dict key", "di1ei2ee"},
		{"string length overflow", "99999999999999999999:a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tc.input))
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestBinaryDictKeyRejected(t *testing.T) {
	_, _, err := Decode([]byte{'d', '1', ':', 0xff, 'i', '1', 'e', 'e'})
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestEncodeCanonicalFixedPoint(t *testing.T) {
	// Keys out of order and a non-minimal integer spelling: one decode
	// plus encode canonicalizes, after which the encoding is stable.
	input := []byte("d1:bi2e1:ai01e1:cl2:xyi-3eee")
	v, _, err := Decode(input)
	require.NoError(t, err)

	first := &bytes.Buffer{}
	require.NoError(t, v.Encode(first))

	v2, rest, err := Decode(first.Bytes())
	require.NoError(t, err)
	require.Empty(t, rest)

	second := &bytes.Buffer{}
	require.NoError(t, v2.Encode(second))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestEncodeForms(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"4:spam", "4:spam"},
		{"i-42e", "i-42e"},
		{"le", "le"},
		{"de", "de"},
		{"l4:spami7ee", "l4:spami7ee"},
		{"d1:bi2e1:ai1ee", "d1:ai1e1:bi2ee"}, // keys sorted
	}
	for _, tc := range cases {
		v, _, err := Decode([]byte(tc.input))
		require.NoError(t, err)
		out := &bytes.Buffer{}
		require.NoError(t, v.Encode(out))
		require.Equal(t, tc.want, out.String())
	}
}

func TestEncodeBinaryString(t *testing.T) {
	input := []byte{'2', ':', 0xfe, 0xff}
	v, _, err := Decode(input)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, v.Encode(out))
	require.Equal(t, input, out.Bytes())
}

func TestEncodeInvalidValue(t *testing.T) {
	require.Error(t, Value{}.Encode(&bytes.Buffer{}))
}

func TestMarshalJSON(t *testing.T) {
	v, _, err := Decode([]byte("d3:agei30e4:name5:alice4:tagsl1:a1:bee"))
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"age":30,"name":"alice","tags":["a","b"]}`, string(out))
}

func TestStringRendering(t *testing.T) {
	v, _, err := Decode([]byte("d1:bl1:xi2ee1:a4:spame"))
	require.NoError(t, err)
	require.Equal(t, "{a: spam, b: [x, 2]}", v.String())
}
