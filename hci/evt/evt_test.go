package evt

import (
	"testing"
)

func TestCommandComplete(t *testing.T) {
	e := CommandComplete{0x01, 0x09, 0x10, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	if e.NumHCICommandPackets() != 1 {
		t.Fatal("num packets")
	}
	if e.CommandOpcode() != 0x1009 {
		t.Fatalf("opcode 0x%04X", e.CommandOpcode())
	}
	if e.Status() != 0 || len(e.ReturnParameters()) != 7 {
		t.Fatalf("return parameters % X", e.ReturnParameters())
	}

	// NOP credit update carries no return parameters
	nop := CommandComplete{0x02, 0x00, 0x00}
	rp, err := nop.ReturnParametersWErr()
	if err != nil || len(rp) != 0 {
		t.Fatalf("nop rp % X, %v", rp, err)
	}

	short := CommandComplete{0x01}
	if _, err := short.CommandOpcodeWErr(); err == nil {
		t.Fatal("no error on short event")
	}
	if short.CommandOpcode() != 0xffff {
		t.Fatal("default opcode")
	}
}

func TestCommandStatus(t *testing.T) {
	e := CommandStatus{0x00, 0x01, 0x06, 0x04}
	if !e.Valid() || e.Status() != 0 || e.CommandOpcode() != 0x0406 {
		t.Fatalf("bad decode % X", []byte(e))
	}
	if (CommandStatus{0x00, 0x01}).Valid() {
		t.Fatal("short status is valid")
	}
}

func TestDisconnectionComplete(t *testing.T) {
	e := DisconnectionComplete{0x00, 0x40, 0x20, 0x13}
	if e.ConnectionHandle() != 0x040 || e.Reason() != 0x13 {
		t.Fatalf("handle 0x%04X reason 0x%02X", e.ConnectionHandle(), e.Reason())
	}
}

func TestNumberOfCompletedPackets(t *testing.T) {
	e := NumberOfCompletedPackets{0x02, 0x40, 0x00, 0x01, 0x00, 0x41, 0x00, 0x03, 0x00}
	if e.NumberOfHandles() != 2 {
		t.Fatal("handles")
	}
	if e.ConnectionHandle(1) != 0x41 || e.HCNumOfCompletedPackets(1) != 3 {
		t.Fatal("second entry")
	}
	if _, err := e.ConnectionHandleWErr(2); err == nil {
		t.Fatal("no error past the end")
	}
}

func TestCoprocessorReady(t *testing.T) {
	if k := CoprocessorReady([]byte{0x00, 0x92, 0x00}).Kind(); k != FirmwareWireless {
		t.Fatalf("kind %v", k)
	}
	if k := CoprocessorReady([]byte{0x00, 0x92, 0x01}).Kind(); k != FirmwareFUS {
		t.Fatalf("kind %v", k)
	}
	if _, err := CoprocessorReady([]byte{0x01, 0x92, 0x00}).KindWErr(); err == nil {
		t.Fatal("wrong sub-event accepted")
	}
	if Vendor([]byte{0x01, 0x92, 0xaa}).SubeventCode() != CoprocessorErrorSubCode {
		t.Fatal("sub-event code")
	}
}
