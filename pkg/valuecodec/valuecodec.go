// Package valuecodec compresses value payloads above a size threshold
// before they are written into a Value node, and transparently reverses
// that on read. Adapted from the teacher's gzip/zstd compression helpers,
// trimmed to the one-shot EncodeAll/DecodeAll zstd API and a single flag
// byte instead of a stream wrapper.
package valuecodec

import (
	"errors"

	"github.com/klauspost/compress/zstd"

	"cubdb/pkg/dberrors"
)

var (
	errTruncatedFrame = errors.New("valuecodec: truncated frame")
	errUnknownFlag    = errors.New("valuecodec: unknown flag byte")
)

// Threshold is the minimum raw payload size, in bytes, before compression
// is attempted. Smaller values are stored raw; zstd's frame overhead would
// make them larger, not smaller.
const Threshold = 256

const (
	flagRaw       byte = 0
	flagCompressed byte = 1
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	// SpeedDefault with a nil writer yields a reusable one-shot encoder/decoder
	// pair; EncodeAll/DecodeAll are safe for concurrent use.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	encoder = enc
	decoder = dec
}

// Encode returns a framed payload: a one-byte flag followed by either the
// raw bytes or their zstd-compressed form, whichever Threshold dictates.
func Encode(raw []byte) []byte {
	if len(raw) < Threshold {
		out := make([]byte, 1+len(raw))
		out[0] = flagRaw
		copy(out[1:], raw)
		return out
	}
	compressed := encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	out := make([]byte, 1+len(compressed))
	out[0] = flagCompressed
	copy(out[1:], compressed)
	return out
}

// Decode reverses Encode. It returns an IOError if the frame is truncated
// or its compressed payload is corrupt.
func Decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, dberrors.NewIOError(errTruncatedFrame)
	}
	flag, body := framed[0], framed[1:]
	switch flag {
	case flagRaw:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case flagCompressed:
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, dberrors.NewIOError(err)
		}
		return out, nil
	default:
		return nil, dberrors.NewIOError(errUnknownFlag)
	}
}
