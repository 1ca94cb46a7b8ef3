package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReadsWhitespaceSeparatedValues(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1}
	  {"jsonrpc":"2.0","id":2}   {"jsonrpc":"2.0","id":3}`)
	s := NewStream(in, io.Discard)

	for want := 1; want <= 3; want++ {
		raw, err := s.ReadMessage()
		require.NoError(t, err)

		var resp Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		require.NotNil(t, resp.ID)
		assert.Equal(t, int64(want), *resp.ID)
	}

	_, err := s.ReadMessage()
	assert.Equal(t, io.EOF, err)
}

func TestStreamMalformedInputIsFraming(t *testing.T) {
	s := NewStream(strings.NewReader(`{"jsonrpc": nope}`), io.Discard)

	_, err := s.ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFraming))
}

func TestStreamWriteIsOneValuePerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(strings.NewReader(""), &buf)

	id := int64(7)
	require.NoError(t, s.WriteMessage(&Request{JSONRPC: Version, ID: &id, Method: "m"}))
	require.NoError(t, s.WriteMessage(&Request{JSONRPC: Version, Method: "n"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"method":"m"`)
	assert.Contains(t, lines[1], `"method":"n"`)
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStream(strings.NewReader(""), &buf)

	id := int64(42)
	require.NoError(t, w.WriteMessage(&Request{
		JSONRPC: Version,
		ID:      &id,
		Method:  "analysis_engine.Analyze",
		Params:  []any{map[string]any{"label_selector": "x"}},
	}))

	r := NewStream(&buf, io.Discard)
	raw, err := r.ReadMessage()
	require.NoError(t, err)

	var req Request
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "analysis_engine.Analyze", req.Method)
	require.NotNil(t, req.ID)
	assert.Equal(t, id, *req.ID)
}
