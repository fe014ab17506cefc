package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a block compression algorithm. The value is
// written as the first byte of every compressed frame.
type Compression uint8

const (
	// CompressionNone stores the payload as is.
	CompressionNone Compression = 0
	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd is zstd at the default level.
	CompressionZstd Compression = 2
)

// frameHeaderSize is the tag byte plus the uncompressed length.
const frameHeaderSize = 5

var errIncompressible = errors.New("data is incompressible")

// String returns the configuration name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress frames data as [tag][uint32 length][payload]. When the chosen
// algorithm does not shrink the data the frame falls back to
// CompressionNone.
func Compress(data []byte, c Compression) ([]byte, error) {
	var payload []byte
	var err error

	switch c {
	case CompressionNone:
		payload = data
	case CompressionLZ4:
		payload, err = compressLZ4(data)
	case CompressionZstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}

	if errors.Is(err, errIncompressible) {
		c, payload, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = byte(c)
	binary.LittleEndian.PutUint32(frame[1:frameHeaderSize], uint32(len(data)))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// Decompress reverses Compress.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("compressed frame too short: %d bytes", len(frame))
	}
	c := Compression(frame[0])
	size := int(binary.LittleEndian.Uint32(frame[1:frameHeaderSize]))
	payload := frame[frameHeaderSize:]

	switch c {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("uncompressed frame: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

type compressed struct {
	inner Serializer
	tag   Compression
}

// Compressed wraps inner so every marshaled value is framed with
// Compress. Unmarshal accepts frames of any algorithm.
func Compressed(inner Serializer, c Compression) Serializer {
	if c == CompressionNone {
		return inner
	}
	return &compressed{inner: inner, tag: c}
}

func (s *compressed) Name() string {
	return s.inner.Name() + "+" + s.tag.String()
}

func (s *compressed) Marshal(v any) ([]byte, error) {
	raw, err := s.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Compress(raw, s.tag)
}

func (s *compressed) Unmarshal(data []byte, v any) error {
	raw, err := Decompress(data)
	if err != nil {
		return err
	}
	return s.inner.Unmarshal(raw, v)
}
