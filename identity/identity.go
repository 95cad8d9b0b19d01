// Package identity derives the Bluetooth addresses and root keys of an
// STM32WB device from its factory signature.
package identity

import (
	"crypto/aes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

// STCompanyID is the IEEE company identifier of STMicroelectronics.
const STCompanyID = 0x0080E1

// Signature is the factory programmed identity of a device.
type Signature struct {
	// UID64 holds the unique device number in bits 31:0, the device id in
	// bits 39:32 and the company id in bits 63:40.
	UID64 uint64

	// DeviceID and Revision come from the debug IDCODE register.
	DeviceID uint16
	Revision uint16
}

// UDN returns the unique device number.
func (s Signature) UDN() uint32 {
	return uint32(s.UID64)
}

// UIDDeviceID returns the device id byte of UID64.
func (s Signature) UIDDeviceID() uint8 {
	return uint8(s.UID64 >> 32)
}

// CompanyID returns the company id of UID64.
func (s Signature) CompanyID() uint32 {
	return uint32(s.UID64 >> 40)
}

func (s Signature) String() string {
	return fmt.Sprintf("uid %016x dev 0x%03x rev 0x%04x", s.UID64, s.DeviceID, s.Revision)
}

func (s Signature) bytes() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint64(b, s.UID64)
	binary.LittleEndian.PutUint16(b[8:], s.DeviceID)
	binary.LittleEndian.PutUint16(b[10:], s.Revision)
	return b
}

// PublicAddress builds the public device address from the signature, LSB
// first: two bytes of the unique device number, the device id, then the
// company id.
func PublicAddress(s Signature) [6]byte {
	udn := s.UDN()
	return [6]byte{
		byte(udn),
		byte(udn >> 8),
		s.UIDDeviceID(),
		byte(STCompanyID & 0xff),
		byte(STCompanyID >> 8 & 0xff),
		byte(STCompanyID >> 16),
	}
}

// Diversifiers keying the derivations.
var (
	randomAddressDiv = [16]byte{'w', 'b', 'h', 'c', 'i', ' ', 's', 't', 'a', 't', 'i', 'c', ' ', 'a', 'd', 'r'}
	identityRootDiv  = [16]byte{'w', 'b', 'h', 'c', 'i', ' ', 'i', 'd', 'e', 'n', 't', 'i', 't', 'y', ' ', 'r'}
	encryptRootDiv   = [16]byte{'w', 'b', 'h', 'c', 'i', ' ', 'e', 'n', 'c', 'r', 'y', 'p', 't', ' ', ' ', 'r'}
)

// derive returns AES-CMAC(div, signature) in little endian byte order.
func derive(div [16]byte, s Signature) ([16]byte, error) {
	var out [16]byte
	c, err := aes.NewCipher(div[:])
	if err != nil {
		return out, err
	}
	m, err := cmac.New(c)
	if err != nil {
		return out, errors.Wrap(err, "can't create cmac")
	}
	m.Write(s.bytes())
	copy(out[:], swapBuf(m.Sum(nil)))
	return out, nil
}

// StaticRandomAddress derives a static random address. The two most
// significant bits are set and the random part is never all zeros or all
// ones.
func StaticRandomAddress(s Signature) ([6]byte, error) {
	var a [6]byte
	d, err := derive(randomAddressDiv, s)
	if err != nil {
		return a, err
	}
	copy(a[:], d[:6])
	a[5] |= 0xC0

	zeros, ones := true, true
	for i, b := range a {
		if i == 5 {
			b &= 0x3F
			ones = ones && b == 0x3F
		} else {
			ones = ones && b == 0xFF
		}
		zeros = zeros && b == 0
	}
	if zeros || ones {
		a[0] ^= 0x01
	}
	return a, nil
}

// IdentityRootKey derives the IR used by the co-processor to generate IRKs.
func IdentityRootKey(s Signature) ([16]byte, error) {
	return derive(identityRootDiv, s)
}

// EncryptionRootKey derives the ER used by the co-processor to generate LTKs.
func EncryptionRootKey(s Signature) ([16]byte, error) {
	return derive(encryptRootDiv, s)
}

// Identity is everything written to the co-processor configuration at
// bring-up.
type Identity struct {
	PublicAddress [6]byte
	RandomAddress [6]byte
	IRK           [16]byte
	ERK           [16]byte
}

// Derive computes the full identity of s.
func Derive(s Signature) (Identity, error) {
	var id Identity
	var err error
	id.PublicAddress = PublicAddress(s)
	if id.RandomAddress, err = StaticRandomAddress(s); err != nil {
		return id, errors.Wrap(err, "static random address")
	}
	if id.IRK, err = IdentityRootKey(s); err != nil {
		return id, errors.Wrap(err, "identity root key")
	}
	if id.ERK, err = EncryptionRootKey(s); err != nil {
		return id, errors.Wrap(err, "encryption root key")
	}
	return id, nil
}

// FormatAddress prints an LSB-first address in the usual MSB-first notation.
func FormatAddress(a [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// ParseAddress parses an address in MSB-first notation, with or without
// colons, into LSB-first order.
func ParseAddress(s string) ([6]byte, error) {
	var a [6]byte
	b, err := hex.DecodeString(strings.Replace(s, ":", "", -1))
	if err != nil {
		return a, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(b) != len(a) {
		return a, errors.Errorf("invalid address %q: %d bytes", s, len(b))
	}
	copy(a[:], swapBuf(b))
	return a, nil
}

func swapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}
	return a
}
