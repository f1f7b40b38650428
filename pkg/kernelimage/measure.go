package kernelimage

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// MeasurementSize is the digest width of the image measurement.
const MeasurementSize = 32

// Measurement is a SHA3-256 digest of a loaded image. Measurements are
// recorded for post-mortem attestation only; they never gate the boot
// pipeline.
type Measurement [MeasurementSize]byte

func (m Measurement) String() string { return hex.EncodeToString(m[:]) }

// Measure digests the image bytes as they sit in the load window, so a
// corrupted copy measures differently from the media contents.
func Measure(img *LoadedImage, mem Memory) (Measurement, error) {
	var m Measurement
	buf := make([]byte, img.Size)
	n, err := mem.ReadAt(buf, img.LoadAddress)
	if err != nil {
		return m, fmt.Errorf("measure: read image: %w", err)
	}
	if uint64(n) != img.Size {
		return m, fmt.Errorf("measure: short read (%d of %d bytes)", n, img.Size)
	}
	return Measurement(sha3.Sum256(buf)), nil
}

// MeasurementRegister accumulates measurements the way a TPM PCR does:
// each Extend folds a new digest into the running value, so the final
// register value commits to the whole ordered sequence.
type MeasurementRegister struct {
	value Measurement
	count int
}

// Extend folds digest into the register.
func (r *MeasurementRegister) Extend(digest Measurement) {
	h := sha3.New256()
	h.Write(r.value[:])
	h.Write(digest[:])
	copy(r.value[:], h.Sum(nil))
	r.count++
}

// Value returns the current register value.
func (r *MeasurementRegister) Value() Measurement { return r.value }

// Count returns how many digests have been folded in.
func (r *MeasurementRegister) Count() int { return r.count }
