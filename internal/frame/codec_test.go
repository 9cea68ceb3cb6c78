package frame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	wire := Encode(body)

	d := NewDecoder()
	msgs, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, string(body), string(msgs[0]))
}

func TestDecodeMultipleMessagesInOneRead(t *testing.T) {
	a := Encode([]byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`))
	b := Encode([]byte(`{"jsonrpc":"2.0","id":2,"method":"b"}`))
	c := Encode([]byte(`{"jsonrpc":"2.0","id":3,"method":"c"}`))

	var all []byte
	all = append(all, a...)
	all = append(all, b...)
	all = append(all, c...)

	d := NewDecoder()
	msgs, err := d.Feed(all)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for i, want := range []int{1, 2, 3} {
		var parsed struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(msgs[i], &parsed))
		assert.Equal(t, want, parsed.ID)
	}
}

func TestDecodeSplitAcrossArbitraryChunks(t *testing.T) {
	a := Encode([]byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`))
	b := Encode([]byte(`{"jsonrpc":"2.0","id":2,"method":"b"}`))
	var all []byte
	all = append(all, a...)
	all = append(all, b...)

	chunkSizes := []int{1, 3, 7, 1, 0, 50, 2}
	d := NewDecoder()

	var got []json.RawMessage
	pos := 0
	for _, size := range chunkSizes {
		end := pos + size
		if end > len(all) {
			end = len(all)
		}
		msgs, err := d.Feed(all[pos:end])
		require.NoError(t, err)
		got = append(got, msgs...)
		pos = end
	}
	// Feed the remainder, including a trailing zero-length read.
	msgs, err := d.Feed(all[pos:])
	require.NoError(t, err)
	got = append(got, msgs...)
	msgs, err = d.Feed(nil)
	require.NoError(t, err)
	got = append(got, msgs...)

	require.Len(t, got, 2)
	var first struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(got[0], &first))
	assert.Equal(t, 1, first.ID)
}

func TestDecodeByteAtATime(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":42,"method":"textDocument/hover"}`)
	wire := Encode(body)

	d := NewDecoder()
	var got []json.RawMessage
	for i := 0; i < len(wire); i++ {
		msgs, err := d.Feed(wire[i : i+1])
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	require.Len(t, got, 1)
	assert.JSONEq(t, string(body), string(got[0]))
}

func TestMalformedHeaderClearsEntireBuffer(t *testing.T) {
	d := NewDecoder()

	bad := []byte("Bogus-Header: nope\r\n\r\n")
	good := Encode([]byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`))

	msgs, err := d.Feed(bad)
	assert.Nil(t, msgs)
	require.Error(t, err)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)

	// Buffer must be fully cleared: feeding a valid frame afterward
	// resynchronizes cleanly with no leftover garbage.
	msgs, err = d.Feed(good)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMissingContentLengthIsProtocolError(t *testing.T) {
	d := NewDecoder()
	msgs, err := d.Feed([]byte("Content-Type: application/json\r\n\r\n"))
	assert.Nil(t, msgs)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestContentTypeHeaderIgnored(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`)
	wire := []byte("Content-Length: " + itoa(len(body)) + "\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n")
	wire = append(wire, body...)

	d := NewDecoder()
	msgs, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, string(body), string(msgs[0]))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestEncodeJSON(t *testing.T) {
	wire, err := EncodeJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	require.NoError(t, err)

	d := NewDecoder()
	msgs, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
