package coralsock

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameCount and maxFrameSize bound what ReadMessage will allocate for
// a single incoming message, so a corrupt peer cannot make us OOM.
const (
	maxFrameCount = 64
	maxFrameSize  = 64 << 20
)

// WriteMessage writes parts as one framed message: a u16 frame count,
// followed by each frame as a u32 length prefix and its bytes.
func WriteMessage(w io.Writer, parts [][]byte) error {
	if len(parts) == 0 || len(parts) > maxFrameCount {
		return fmt.Errorf("coralsock: invalid frame count %d", len(parts))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(parts)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, p := range parts {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if len(p) > 0 {
			if _, err := w.Write(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadMessage reads one framed message written by WriteMessage.
func ReadMessage(r *bufio.Reader) ([][]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint16(hdr[:])
	if count == 0 || int(count) > maxFrameCount {
		return nil, fmt.Errorf("coralsock: invalid frame count %d", count)
	}
	parts := make([][]byte, count)
	for i := range parts {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameSize {
			return nil, fmt.Errorf("coralsock: frame too large: %d", n)
		}
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
		}
		parts[i] = buf
	}
	return parts, nil
}
