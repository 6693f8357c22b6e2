package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	frames := []Frame{
		&Event{
			Stream:       "SYSTEM",
			EventID:      -1,
			TriggerMask:  0x4,
			Serial:       123456,
			ProducerTime: 1700000000,
			Data:         []byte{0, 1, 2, 3, 0xff},
		},
		&Message{Payload: []byte("[mhttpd] run 42 started")},
		&Transition{Kind: 16, Run: 42, Text: "aborted by operator"},
		&Subscribe{Stream: "BUF01", EventID: -1, Mode: ModeNonBlocking},
		&RegisterMessages{},
		&RegisterTransition{Kind: 2, Priority: 500},
	}

	for _, f := range frames {
		t.Run(f.TypeURL(), func(t *testing.T) {
			data, err := c.Encode(f)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestCodecZeroValues(t *testing.T) {
	c := newTestCodec(t)

	data, err := c.Encode(&Event{})
	require.NoError(t, err)

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &Event{}, got)
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	c := newTestCodec(t)

	payload := []byte(strings.Repeat("adc0 adc1 adc2 adc3 ", 1000))
	data, err := c.Encode(&Event{Stream: "SYSTEM", Data: payload})
	require.NoError(t, err)
	assert.Less(t, len(data), len(payload)/4)
}

func TestCodecRejectsUnknownType(t *testing.T) {
	c := newTestCodec(t)

	raw, err := proto.Marshal(&anypb.Any{TypeUrl: "daq.feed.Bogus"})
	require.NoError(t, err)

	_, err = c.Decode(c.enc.EncodeAll(raw, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown frame type")
}

func TestCodecRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.Decode([]byte("not zstd"))
	assert.Error(t, err)
}

// encodeRaw compresses an Any carrying a hand-built body.
func encodeRaw(t *testing.T, c *Codec, typeURL string, body []byte) []byte {
	t.Helper()
	raw, err := proto.Marshal(&anypb.Any{TypeUrl: typeURL, Value: body})
	require.NoError(t, err)
	return c.enc.EncodeAll(raw, nil)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	c := newTestCodec(t)

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("hello"))
	body = protowire.AppendTag(body, 99, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)

	got, err := c.Decode(encodeRaw(t, c, TypeMessage, body))
	require.NoError(t, err)
	assert.Equal(t, &Message{Payload: []byte("hello")}, got)
}

func TestDecodeReadsZigZagFields(t *testing.T) {
	c := newTestCodec(t)

	var body []byte
	body = protowire.AppendTag(body, 2, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(-1))
	body = protowire.AppendTag(body, 4, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(9))

	got, err := c.Decode(encodeRaw(t, c, TypeEvent, body))
	require.NoError(t, err)
	assert.Equal(t, &Event{EventID: -1, Serial: 9}, got)
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"truncated", protowire.AppendVarint(protowire.AppendTag(nil, 6, protowire.BytesType), 10)},
		{"invalid utf8", protowire.AppendBytes(protowire.AppendTag(nil, 1, protowire.BytesType), []byte{0xff, 0xfe})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(encodeRaw(t, c, TypeEvent, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parse "+TypeEvent)
		})
	}
}

func TestSchemaMatchesFrames(t *testing.T) {
	for _, url := range []string{TypeEvent, TypeMessage, TypeTransition, TypeSubscribe, TypeRegisterMessages, TypeRegisterTransition} {
		m, err := newMessage(url)
		require.NoError(t, err, url)
		assert.Equal(t, url, string(m.Descriptor().FullName()))
	}

	_, err := newMessage("other.pkg.Event")
	assert.Error(t, err)
}
