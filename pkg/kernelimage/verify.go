package kernelimage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature reports a wrong magic word.
	ErrInvalidSignature = errors.New("invalid kernel signature")
	// ErrChecksumMismatch reports header words that do not sum to zero.
	ErrChecksumMismatch = errors.New("kernel header checksum mismatch")
	// ErrHeaderTruncated reports a header slice shorter than HeaderSize.
	ErrHeaderTruncated = errors.New("kernel header truncated")
)

// DecodeSignature decodes the four little-endian header words from raw.
func DecodeSignature(raw []byte) (Signature, error) {
	if len(raw) < HeaderSize {
		return Signature{}, fmt.Errorf("%w: %d of %d bytes", ErrHeaderTruncated, len(raw), HeaderSize)
	}
	return Signature{
		Magic:    binary.LittleEndian.Uint32(raw[0:4]),
		Version:  binary.LittleEndian.Uint32(raw[4:8]),
		Flags:    binary.LittleEndian.Uint32(raw[8:12]),
		Checksum: binary.LittleEndian.Uint32(raw[12:16]),
	}, nil
}

// CheckSignature runs both header checks in order. The magic word must
// match Magic and the four words must sum to zero with wraparound 32-bit
// arithmetic.
func CheckSignature(sig Signature) error {
	if sig.Magic != Magic {
		return fmt.Errorf("%w: magic %#08x", ErrInvalidSignature, sig.Magic)
	}
	if sig.Magic+sig.Version+sig.Flags+sig.Checksum != 0 {
		return fmt.Errorf("%w: words sum to %#08x",
			ErrChecksumMismatch, sig.Magic+sig.Version+sig.Flags+sig.Checksum)
	}
	return nil
}

// Verify reads the header from the image's fixed offset, runs both checks,
// and on success records the signature and marks the image verified. Both
// checks are evaluated before any mutation; a failed verification leaves
// the image untouched.
func Verify(img *LoadedImage, mem Memory) error {
	raw := make([]byte, HeaderSize)
	n, err := mem.ReadAt(raw, img.LoadAddress+HeaderOffset)
	if err != nil {
		return fmt.Errorf("%w: header read: %v", ErrHeaderTruncated, err)
	}
	sig, err := DecodeSignature(raw[:n])
	if err != nil {
		return err
	}
	if err := CheckSignature(sig); err != nil {
		return err
	}
	img.Signature = sig
	img.Verified = true
	return nil
}

// VerifyWords checks a pre-decoded (magic, checksum) pair against the
// version and flags words already held by the image signature. It exists
// for callers that read the two interesting words out of band.
func VerifyWords(img *LoadedImage, magic, checksum uint32) error {
	sig := Signature{
		Magic:    magic,
		Version:  img.Signature.Version,
		Flags:    img.Signature.Flags,
		Checksum: checksum,
	}
	if err := CheckSignature(sig); err != nil {
		return err
	}
	img.Signature = sig
	img.Verified = true
	return nil
}
