// Package shortvec implements the compact-u16 length prefix used in the
// Solana wire format: 7 bits per byte, low bits first, with the high bit set
// on every byte but the last.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

const maxEncodedBytes = 3

// EncodeLen writes length to w and returns the number of bytes written.
// Lengths above math.MaxUint16 are rejected.
func EncodeLen(w io.Writer, length int) (n int, err error) {
	if length < 0 || length > math.MaxUint16 {
		return 0, errors.Errorf("length %d out of range [0, %d]", length, math.MaxUint16)
	}

	var buf [maxEncodedBytes]byte
	size := 0
	for {
		buf[size] = byte(length & 0x7f)
		length >>= 7
		if length == 0 {
			size++
			break
		}

		buf[size] |= 0x80
		size++
	}

	return w.Write(buf[:size])
}

// DecodeLen reads a compact-u16 length from r.
func DecodeLen(r io.Reader) (int, error) {
	var val int
	var b [1]byte

	for offset := 0; ; offset++ {
		if offset == maxEncodedBytes {
			return 0, errors.Errorf("invalid size: more than %d bytes", maxEncodedBytes)
		}

		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}

		val |= int(b[0]&0x7f) << (offset * 7)
		if b[0]&0x80 == 0 {
			return val, nil
		}
	}
}
