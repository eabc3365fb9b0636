package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	rtree "github.com/john862003/ui"
)

// Compression selects the block compression algorithm of Compressed.
type Compression uint8

const (
	// CompressionZSTD compresses blocks with zstd (better ratio, good for cold data).
	CompressionZSTD Compression = iota + 1
	// CompressionLZ4 compresses blocks with LZ4 (fast, good for hot data).
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionZSTD:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// maxBlockSize bounds the decompressed size a block header may claim.
const maxBlockSize = 1 << 30

const (
	blockStored     = 0
	blockCompressed = 1
)

// Compressed wraps a serializer and compresses the blocks it produces.
//
// Block layout: one flag byte (stored or compressed), the uvarint size of the
// inner block, then the data. Blocks that do not shrink are stored as is.
type Compressed[T any] struct {
	Inner     rtree.Serializer[T]
	Algorithm Compression
}

// NewZSTD wraps inner with zstd compression.
func NewZSTD[T any](inner rtree.Serializer[T]) Compressed[T] {
	return Compressed[T]{Inner: inner, Algorithm: CompressionZSTD}
}

// NewLZ4 wraps inner with LZ4 compression.
func NewLZ4[T any](inner rtree.Serializer[T]) Compressed[T] {
	return Compressed[T]{Inner: inner, Algorithm: CompressionLZ4}
}

// VersionString returns the inner version with the algorithm appended, e.g.
// "strings.v1+zstd".
func (c Compressed[T]) VersionString() string {
	return c.Inner.VersionString() + "+" + c.Algorithm.String()
}

// Serialize encodes with the inner serializer and compresses the result.
func (c Compressed[T]) Serialize(payloads []T, rects []rtree.Rect) ([]byte, error) {
	raw, err := c.Inner.Serialize(payloads, rects)
	if err != nil {
		return nil, err
	}

	var packed []byte
	switch c.Algorithm {
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		packed = enc.EncodeAll(raw, nil)
		putZstdEncoder(enc)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	default:
		return nil, fmt.Errorf("unknown compression %v", c.Algorithm)
	}

	flag := byte(blockCompressed)
	if len(packed) == 0 || len(packed) >= len(raw) {
		flag, packed = blockStored, raw
	}
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(packed))
	out = append(out, flag)
	out = binary.AppendUvarint(out, uint64(len(raw)))
	return append(out, packed...), nil
}

// Deserialize decompresses a block and decodes it with the inner serializer.
func (c Compressed[T]) Deserialize(data []byte) ([]T, []rtree.Rect, error) {
	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	flag := data[0]
	size, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, nil, ErrTruncated
	}
	if size > maxBlockSize {
		return nil, nil, fmt.Errorf("block claims %d bytes, limit is %d", size, maxBlockSize)
	}
	body := data[1+n:]

	var raw []byte
	switch {
	case flag == blockStored:
		if uint64(len(body)) != size {
			return nil, nil, fmt.Errorf("%w: stored block holds %d of %d bytes", ErrTruncated, len(body), size)
		}
		raw = body
	case flag != blockCompressed:
		return nil, nil, fmt.Errorf("invalid block flag %d", flag)
	case c.Algorithm == CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, nil, err
		}
		raw, err = dec.DecodeAll(body, make([]byte, 0, size))
		putZstdDecoder(dec)
		if err != nil {
			return nil, nil, err
		}
	case c.Algorithm == CompressionLZ4:
		raw = make([]byte, size)
		m, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, nil, err
		}
		raw = raw[:m]
	default:
		return nil, nil, fmt.Errorf("unknown compression %v", c.Algorithm)
	}
	if uint64(len(raw)) != size {
		return nil, nil, errors.New("decompressed size mismatch")
	}
	return c.Inner.Deserialize(raw)
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}
