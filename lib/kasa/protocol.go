package kasa

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	DefaultPort = 9999

	initialKey = 171
	maxFrame   = 64 * 1024
)

// encrypt applies the autokey XOR cipher used by Kasa plugs: each output
// byte becomes the key for the next.
func encrypt(plain []byte) []byte {
	out := make([]byte, len(plain))
	key := byte(initialKey)
	for i, c := range plain {
		key ^= c
		out[i] = key
	}
	return out
}

func decrypt(cipher []byte) []byte {
	out := make([]byte, len(cipher))
	key := byte(initialKey)
	for i, c := range cipher {
		out[i] = key ^ c
		key = c
	}
	return out
}

func writeFrame(w io.Writer, plain []byte) error {
	buf := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(buf, uint32(len(plain)))
	copy(buf[4:], encrypt(plain))
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d", n, maxFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return decrypt(buf), nil
}
