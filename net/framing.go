package net

import (
	"encoding/binary"
	"errors"
)

// FRAME_HEAD_SIZE frame header length.
const FRAME_HEAD_SIZE = 4

// EncodeFrameHead writes the big-endian length header for a message of the
// given size into buf. buf must be at least FRAME_HEAD_SIZE bytes.
func EncodeFrameHead(buf []byte, size int) {
	binary.BigEndian.PutUint32(buf[:FRAME_HEAD_SIZE], uint32(size))
}

// DecodeFrameHead reads the message size from a frame header. A size of zero
// is legal: it is an empty message.
func DecodeFrameHead(buf []byte) (int, error) {
	if len(buf) < FRAME_HEAD_SIZE {
		return 0, errors.New("buff too small")
	}
	return int(binary.BigEndian.Uint32(buf)), nil
}

// appendFrame appends header plus payload for one message to dst, growing it
// as needed.
func appendFrame(dst, msg []byte) []byte {
	var hdr [FRAME_HEAD_SIZE]byte
	EncodeFrameHead(hdr[:], len(msg))
	dst = append(dst, hdr[:]...)
	return append(dst, msg...)
}
