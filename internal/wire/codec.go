package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// MaxFrameSize bounds a decompressed frame.
const MaxFrameSize = 64 << 20

// Codec converts frames to and from their compressed wire form.
// It is safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a Codec with default zstd settings.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode serializes f, wraps it in an Any and compresses the result.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	m, err := newMessage(f.TypeURL())
	if err != nil {
		return nil, err
	}
	f.store(m)

	body, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", f.TypeURL(), err)
	}
	data, err := proto.Marshal(&anypb.Any{TypeUrl: f.TypeURL(), Value: body})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return c.enc.EncodeAll(data, nil), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) (Frame, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}

	var msg anypb.Any
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	f, err := newFrame(msg.GetTypeUrl())
	if err != nil {
		return nil, err
	}
	m, err := newMessage(msg.GetTypeUrl())
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(msg.GetValue(), m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", msg.GetTypeUrl(), err)
	}
	f.load(m)
	return f, nil
}

// Close releases compressor resources.
func (c *Codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
