package identity

import (
	"bytes"
	"crypto/aes"
	"testing"

	"github.com/aead/cmac"
)

var sig = Signature{UID64: 0x0080E1_26_12345678, DeviceID: 0x495, Revision: 0x2001}

func TestSignatureFields(t *testing.T) {
	if sig.UDN() != 0x12345678 {
		t.Errorf("udn %08x", sig.UDN())
	}
	if sig.UIDDeviceID() != 0x26 {
		t.Errorf("device id %02x", sig.UIDDeviceID())
	}
	if sig.CompanyID() != STCompanyID {
		t.Errorf("company id %06x", sig.CompanyID())
	}
}

func TestPublicAddress(t *testing.T) {
	want := [6]byte{0x78, 0x56, 0x26, 0xE1, 0x80, 0x00}
	if a := PublicAddress(sig); a != want {
		t.Errorf("got % X want % X", a, want)
	}
	if s := FormatAddress(want); s != "00:80:E1:26:56:78" {
		t.Errorf("formatted %s", s)
	}
}

func TestStaticRandomAddress(t *testing.T) {
	a, err := StaticRandomAddress(sig)
	if err != nil {
		t.Fatal(err)
	}
	if a[5]&0xC0 != 0xC0 {
		t.Errorf("top bits not set: % X", a)
	}
	b, _ := StaticRandomAddress(sig)
	if a != b {
		t.Error("derivation is not stable")
	}
	other := sig
	other.UID64++
	c, _ := StaticRandomAddress(other)
	if a == c {
		t.Error("different devices share an address")
	}
}

func TestRootKeysMatchCMAC(t *testing.T) {
	irk, err := IdentityRootKey(sig)
	if err != nil {
		t.Fatal(err)
	}
	erk, err := EncryptionRootKey(sig)
	if err != nil {
		t.Fatal(err)
	}
	if irk == erk {
		t.Error("IR and ER are equal")
	}

	c, _ := aes.NewCipher(identityRootDiv[:])
	tag, err := cmac.Sum(sig.bytes(), c, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(swapBuf(tag), irk[:]) {
		t.Errorf("irk % X, cmac % X", irk, tag)
	}
}

func TestDerive(t *testing.T) {
	id, err := Derive(sig)
	if err != nil {
		t.Fatal(err)
	}
	if id.PublicAddress != PublicAddress(sig) {
		t.Error("public address mismatch")
	}
	ra, _ := StaticRandomAddress(sig)
	if id.RandomAddress != ra {
		t.Error("random address mismatch")
	}
}

func TestSwapBuf(t *testing.T) {
	in := []byte{1, 2, 3}
	if out := swapBuf(in); !bytes.Equal(out, []byte{3, 2, 1}) || in[0] != 1 {
		t.Errorf("swapBuf(%v) = %v", in, out)
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("00:80:E1:26:56:78")
	if err != nil {
		t.Fatal(err)
	}
	if a != [6]byte{0x78, 0x56, 0x26, 0xE1, 0x80, 0x00} {
		t.Errorf("got % X", a)
	}
	if _, err := ParseAddress("0080e1"); err == nil {
		t.Error("short address accepted")
	}
	if _, err := ParseAddress("zz:80:E1:26:56:78"); err == nil {
		t.Error("bad hex accepted")
	}
}
