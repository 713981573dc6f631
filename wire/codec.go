// Package wire implements the framing shared by the tracker protocol and
// the peer-to-peer chunk protocol. Requests travel as UTF-8 text (one UDP
// datagram, or one newline-terminated TCP line); responses are binary with
// big-endian integers and length-prefixed strings. The one framing rule that
// everything builds on: a string is a 2-byte big-endian length followed by
// that many bytes of UTF-8.
package wire

import (
	"encoding/binary"
	"io"
	"math"

	"gitlab.com/NebulousLabs/errors"
)

var (
	// ErrStringTooLong is returned when a string exceeds the 2-byte length
	// prefix.
	ErrStringTooLong = errors.New("string exceeds 65535 byte framing limit")

	// ErrTruncated is returned when a message ends mid-field.
	ErrTruncated = errors.New("message truncated")
)

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed UTF-8 string. A clean io.EOF before
// the first length byte is passed through so that callers iterating over
// concatenated records can detect the end of the stream.
func ReadString(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", errTruncated(err)
	}
	strBuf := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, strBuf); err != nil {
		return "", errTruncated(err)
	}
	return string(strBuf), nil
}

// WriteUint32 writes a big-endian u32.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a big-endian u32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errTruncated(err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint64 writes a big-endian u64.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a big-endian u64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errTruncated(err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteByte writes a single byte.
func WriteByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// ReadByte reads a single byte.
func ReadByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errTruncated(err)
	}
	return buf[0], nil
}

// errTruncated normalizes the io errors produced by reads that end
// mid-field.
func errTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}
