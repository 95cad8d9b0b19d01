package hci

import (
	"bytes"
	"testing"
)

var resetComplete = []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}

func TestDecoderTruncatedChunks(t *testing.T) {
	d := NewDecoder(DefaultLimits)

	for i, c := range resetComplete {
		d.Write([]byte{c})
		p, err := d.Next()
		if i < len(resetComplete)-1 {
			if err != ErrNeedMore {
				t.Fatalf("byte %d: got %v, %v", i, p, err)
			}
			if d.Buffered() != i+1 {
				t.Fatalf("byte %d: buffered %d", i, d.Buffered())
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if e := p.(*Event); e.Code != 0x0E {
			t.Fatalf("code 0x%02X", e.Code)
		}
	}
	if d.Buffered() != 0 {
		t.Fatalf("%d bytes left", d.Buffered())
	}
}

func TestDecoderBackToBack(t *testing.T) {
	d := NewDecoder(DefaultLimits)
	acl := []byte{0x02, 0x40, 0x20, 0x02, 0x00, 0x01, 0x02}
	d.Write(append(append([]byte{}, resetComplete...), acl...))

	p, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Event); !ok {
		t.Fatalf("first frame %T", p)
	}
	p, err = d.Next()
	if err != nil {
		t.Fatal(err)
	}
	a, ok := p.(*ACLData)
	if !ok {
		t.Fatalf("second frame %T", p)
	}
	if a.Handle != 0x040 || a.PB != PbfControllerToHostStart || !bytes.Equal(a.Data, []byte{1, 2}) {
		t.Fatalf("acl %v", a)
	}
	if _, err := d.Next(); err != ErrNeedMore {
		t.Fatalf("got %v on empty buffer", err)
	}
}

func TestDecoderResyncsAfterBadIndicator(t *testing.T) {
	d := NewDecoder(DefaultLimits)
	d.Write([]byte{0x55, 0x66})
	d.Write(resetComplete)

	_, err := d.Next()
	if !IsFramingError(err) {
		t.Fatalf("expected framing error, got %v", err)
	}
	fe := err.(*FramingError)
	if fe.Indicator != 0x55 || fe.Dropped != 2 {
		t.Fatalf("framing error %+v", fe)
	}

	p, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if p.(*Event).Code != 0x0E {
		t.Fatalf("unexpected frame %v", p)
	}
	if d.Dropped() != 2 {
		t.Fatalf("dropped %d", d.Dropped())
	}
}

func TestDecoderRejectsOverlongACL(t *testing.T) {
	d := NewDecoder(Limits{MaxACLData: 27})
	// declared 28 bytes
	d.Write([]byte{0x02, 0x40, 0x00, 0x1c, 0x00})
	d.Write(resetComplete)

	_, err := d.Next()
	if !IsFramingError(err) {
		t.Fatalf("expected framing error, got %v", err)
	}
	if fe := err.(*FramingError); fe.Declared != 28 {
		t.Fatalf("declared %d", fe.Declared)
	}

	// the resync may stop on an indicator-valued byte inside the garbage
	for i := 0; i < 4; i++ {
		p, err := d.Next()
		if err == nil {
			if e, ok := p.(*Event); ok && e.Code == 0x0E {
				return
			}
			continue
		}
		if !IsFramingError(err) {
			t.Fatalf("unexpected %v", err)
		}
	}
	t.Fatal("decoder did not recover")
}

func TestDecoderIndicatorSet(t *testing.T) {
	d := NewDecoder(DefaultLimits, PktTypeSysResponse, PktTypeSysEvent)
	d.Write(resetComplete)
	if _, err := d.Next(); !IsFramingError(err) {
		t.Fatalf("plain event accepted on system channel: %v", err)
	}

	d.Reset()
	d.Write([]byte{0x12, 0xFF, 0x03, 0x00, 0x92, 0x00})
	p, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if p.Indicator() != PktTypeSysEvent {
		t.Fatalf("indicator %v", p.Indicator())
	}
}
