package bootinfo

import (
	"encoding/binary"
	"fmt"
)

// Tag types of the hand-off encoding. The payload is a flat tagged
// sequence: each tag carries a type word, a size word covering the whole
// tag, and its payload. The exact placement in physical memory is the
// architecture layer's business; this encoding is the logical structure
// both sides agree on.
const (
	TagEnd     uint32 = 0
	TagRegion  uint32 = 1
	TagModule  uint32 = 2
	TagCmdline uint32 = 3
	TagLoader  uint32 = 4
)

const tagHeaderSize = 8

func appendTag(dst []byte, tagType uint32, payload []byte) []byte {
	var hdr [tagHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], tagType)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(tagHeaderSize+len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// Encode serializes a sealed payload as the tagged hand-off sequence.
func (bi *BootInformation) Encode() ([]byte, error) {
	if !bi.sealed {
		return nil, fmt.Errorf("boot info: encode before validation")
	}

	var out []byte
	var buf [24]byte

	for _, r := range bi.Regions {
		binary.LittleEndian.PutUint64(buf[0:8], r.Base)
		binary.LittleEndian.PutUint64(buf[8:16], r.Length)
		binary.LittleEndian.PutUint32(buf[16:20], uint32(r.Type))
		binary.LittleEndian.PutUint32(buf[20:24], 0)
		out = appendTag(out, TagRegion, buf[:24])
	}
	for _, m := range bi.Modules {
		binary.LittleEndian.PutUint64(buf[0:8], m.Start)
		binary.LittleEndian.PutUint64(buf[8:16], m.End)
		payload := append(append([]byte{}, buf[:16]...), []byte(m.Identifier)...)
		out = appendTag(out, TagModule, payload)
	}
	out = appendTag(out, TagCmdline, []byte(bi.CommandLine))
	out = appendTag(out, TagLoader, []byte(bi.LoaderIdentity))
	out = appendTag(out, TagEnd, nil)
	return out, nil
}
