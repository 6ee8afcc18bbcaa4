package cio

import "unicode/utf8"

// Decoder pulls framed items out of a running byte buffer (spec §6).
//
// Decode is given the current valid prefix of the buffer. On a complete
// frame it MUST consume the framing bytes via buf.Consume(n) before
// returning the item with ok == true. On insufficient data it returns
// ok == false, err == nil, and should record enough of its own state that
// re-entry after more bytes arrive is O(new bytes), not O(len(buffer)).
type Decoder[T any] interface {
	Decode(buf *FrameBuffer) (item T, ok bool, err error)
}

// Encoder serialises an item into a buffer, paired with a length query used
// for Writer back-pressure (spec §6). EncodedLen must be a correct upper
// bound: Encode is never asked to write more than EncodedLen promised.
type Encoder[T any] interface {
	EncodedLen(item T) int
	Encode(item T, buf *FrameBuffer) error
}

// Line is a single decoded text line, CR/LF-stripped.
type Line string

// LineDecoder splits a byte stream on 0x0A (LF), returning the preceding
// slice as a UTF-8 string with the terminator removed.
//
// Resolves the Open Question in spec §9: this decoder strips the LF, and
// additionally a single CR immediately before it if present, rather than
// unconditionally trimming two bytes. That matches CR-LF framing exactly;
// on bare-LF framing every payload byte is kept (a CR elsewhere in the line
// included) except a 0x0D that is the line's last byte, which is stripped
// as if it were CR-LF framing.
type LineDecoder struct {
	scanned int // offset already scanned without finding a delimiter
}

func (d *LineDecoder) Decode(buf *FrameBuffer) (Line, bool, error) {
	data := buf.Bytes()
	if d.scanned > len(data) {
		// buffer shrank from under us (shouldn't happen in normal use); rescan.
		d.scanned = 0
	}
	idx := indexByte(data[d.scanned:], '\n')
	if idx < 0 {
		d.scanned = len(data)
		return "", false, nil
	}
	end := d.scanned + idx // index of the '\n'
	line := data[:end]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if !utf8.Valid(line) {
		// Framing bytes are still consumed: a bad line shouldn't wedge the stream.
		buf.Consume(end + 1)
		d.scanned = 0
		return "", false, &invalidUTF8Error{}
	}
	out := make([]byte, len(line))
	copy(out, line)
	buf.Consume(end + 1)
	d.scanned = 0
	return Line(out), true, nil
}

type invalidUTF8Error struct{}

func (*invalidUTF8Error) Error() string { return "cio: line is not valid utf-8" }

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
