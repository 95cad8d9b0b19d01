package h4

import (
	"time"

	"github.com/rigado/wbhci/hci"
)

// frameTimeout discards a partial frame that has not completed in time, so
// a host that stopped mid-frame does not poison the stream.
const frameTimeout = 500 * time.Millisecond

// assembler turns serial chunks into packets.
type assembler struct {
	dec     *hci.Decoder
	timeout time.Time
	now     func() time.Time
}

func newAssembler(l hci.Limits) *assembler {
	return &assembler{
		dec: hci.NewDecoder(l, hci.PktTypeCommand, hci.PktTypeACLData),
		now: time.Now,
	}
}

// Assemble buffers b and returns the packets it completes. Framing errors
// are returned alongside; the decoder has already skipped the bad bytes.
func (f *assembler) Assemble(b []byte) ([]hci.Packet, []error) {
	if len(b) == 0 {
		return nil, nil
	}
	now := f.now()
	if f.dec.Buffered() > 0 && !f.timeout.IsZero() && now.After(f.timeout) {
		f.dec.Reset()
	}
	f.dec.Write(b)

	var pp []hci.Packet
	var errs []error
	for {
		p, err := f.dec.Next()
		if err == hci.ErrNeedMore {
			break
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pp = append(pp, p)
	}

	if f.dec.Buffered() > 0 {
		f.timeout = now.Add(frameTimeout)
	} else {
		f.timeout = time.Time{}
	}
	return pp, errs
}
