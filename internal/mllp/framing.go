package mllp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MLLP frame characters: a frame is StartBlock + payload + EndBlock + CR.
const (
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

// Reader reads MLLP-framed messages off a stream, preserving frame order.
type Reader struct {
	b *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{b: bufio.NewReader(r)}
}

// ReadMessage blocks until a complete frame arrives and returns its
// payload without the wrapper. Bytes before the start block are skipped so
// a stream that resynchronizes mid-frame still recovers.
func (r *Reader) ReadMessage() ([]byte, error) {
	for {
		b, err := r.b.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var buf bytes.Buffer
	for {
		b, err := r.b.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != EndBlock {
			buf.WriteByte(b)
			continue
		}

		cr, err := r.b.ReadByte()
		if err != nil {
			return nil, err
		}
		if cr != CarriageReturn {
			return nil, fmt.Errorf("mllp: malformed trailer: expected CR, got %02X", cr)
		}
		return buf.Bytes(), nil
	}
}

// Writer frames messages onto a stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage wraps the payload in an MLLP frame and writes it out.
func (w *Writer) WriteMessage(payload []byte) error {
	if _, err := w.w.Write([]byte{StartBlock}); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	_, err := w.w.Write([]byte{EndBlock, CarriageReturn})
	return err
}

// Wrap adds the MLLP wrapper unless the message already carries one.
func Wrap(message []byte) []byte {
	if len(message) == 0 {
		return message
	}
	if message[0] == StartBlock {
		return message
	}
	out := make([]byte, 0, len(message)+3)
	out = append(out, StartBlock)
	out = append(out, message...)
	return append(out, EndBlock, CarriageReturn)
}

// Unwrap removes the MLLP wrapper if present.
func Unwrap(message []byte) []byte {
	message = bytes.TrimPrefix(message, []byte{StartBlock})
	return bytes.TrimSuffix(message, []byte{EndBlock, CarriageReturn})
}
