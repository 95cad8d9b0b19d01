package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ErrNeedMore is returned by Decoder.Next while the buffered bytes end in the
// middle of a frame.
var ErrNeedMore = errors.New("need more data")

// FramingError reports bytes that cannot start a valid frame. The decoder has
// already skipped past them when the error is returned.
type FramingError struct {
	Indicator PacketType
	Declared  int
	Dropped   int
	Reason    string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s (indicator 0x%02X, declared %d, dropped %d bytes)",
		e.Reason, byte(e.Indicator), e.Declared, e.Dropped)
}

// IsFramingError reports whether err is, or wraps, a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// Decoder extracts frames from a byte stream delivered in arbitrary chunks.
type Decoder struct {
	buf    []byte
	limits Limits
	accept [256]bool

	frames  int
	dropped int
}

// NewDecoder returns a decoder that accepts the given indicators. With no
// indicators every command, event and ACL indicator is accepted.
func NewDecoder(l Limits, indicators ...PacketType) *Decoder {
	l = l.Normalize()
	if len(indicators) == 0 {
		indicators = []PacketType{
			PktTypeCommand, PktTypeACLData, PktTypeEvent,
			PktTypeSysCommand, PktTypeSysResponse, PktTypeSysEvent,
		}
	}

	d := &Decoder{
		buf:    make([]byte, 0, MaxFrameLen),
		limits: l,
	}
	for _, t := range indicators {
		d.accept[t] = true
	}
	return d
}

// Write buffers p. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Dropped returns the number of bytes discarded while resynchronising.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset forgets all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete frame. It returns ErrNeedMore, consuming
// nothing, when the buffer ends mid-frame. On a *FramingError the offending
// bytes have been discarded up to the next acceptable indicator, so calling
// Next again makes progress.
func (d *Decoder) Next() (Packet, error) {
	if len(d.buf) == 0 {
		return nil, ErrNeedMore
	}

	t := PacketType(d.buf[0])
	if !d.accept[t] {
		return nil, d.resync(&FramingError{Indicator: t, Reason: "unexpected packet indicator"})
	}

	var hdr, plen, max int
	switch t {
	case PktTypeCommand, PktTypeSysCommand:
		hdr, max = CommandHeaderLen, d.limits.MaxParams
		if len(d.buf) < hdr {
			return nil, ErrNeedMore
		}
		plen = int(d.buf[3])
	case PktTypeEvent, PktTypeSysEvent, PktTypeSysResponse:
		hdr, max = EventHeaderLen, d.limits.MaxParams
		if len(d.buf) < hdr {
			return nil, ErrNeedMore
		}
		plen = int(d.buf[2])
	case PktTypeACLData:
		hdr, max = ACLHeaderLen, d.limits.MaxACLData
		if len(d.buf) < hdr {
			return nil, ErrNeedMore
		}
		plen = int(binary.LittleEndian.Uint16(d.buf[3:]))
	default:
		return nil, d.resync(&FramingError{Indicator: t, Reason: "unsupported packet indicator"})
	}

	if plen > max {
		return nil, d.resync(&FramingError{Indicator: t, Declared: plen, Reason: "declared length too long"})
	}
	if len(d.buf) < hdr+plen {
		return nil, ErrNeedMore
	}

	frame := d.buf[:hdr+plen]
	p := parse(t, frame[hdr:], frame)
	d.consume(hdr + plen)
	d.frames++
	return p, nil
}

func parse(t PacketType, payload, frame []byte) Packet {
	body := make([]byte, len(payload))
	copy(body, payload)

	switch t {
	case PktTypeCommand, PktTypeSysCommand:
		return &Command{Type: t, OpCode: binary.LittleEndian.Uint16(frame[1:]), Params: body}
	case PktTypeACLData:
		h := binary.LittleEndian.Uint16(frame[1:])
		return &ACLData{Handle: h & 0x0fff, PB: uint8(h>>12) & 0x3, BC: uint8(h >> 14), Data: body}
	default:
		return &Event{Type: t, Code: frame[1], Params: body}
	}
}

// resync drops the first byte and everything up to the next acceptable
// indicator.
func (d *Decoder) resync(fe *FramingError) error {
	n := 1
	for n < len(d.buf) && !d.accept[d.buf[n]] {
		n++
	}
	d.consume(n)
	d.dropped += n
	fe.Dropped = n
	return fe
}

func (d *Decoder) consume(n int) {
	rem := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rem]
}

// Decode parses exactly one frame from b.
func Decode(b []byte) (Packet, error) {
	d := NewDecoder(DefaultLimits)
	d.Write(b)
	p, err := d.Next()
	if err != nil {
		return nil, err
	}
	if d.Buffered() != 0 {
		return nil, errors.Errorf("%d trailing bytes after frame", d.Buffered())
	}
	return p, nil
}
