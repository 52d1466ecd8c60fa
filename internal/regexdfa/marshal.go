package regexdfa

import (
	"encoding/binary"
	"fmt"
)

// Wire format of one sparse DFA, little-endian:
//
//	u32 state count
//	per state: u8 accept, u8 reserved, u16 range count,
//	           then per range {u8 lo, u8 hi, u16 next}
//
// Every record is a multiple of 4 bytes, so a blob of concatenated images
// stays 4-byte aligned without inter-image padding.

// Marshal serializes d into its wire form.
func (d *DFA) Marshal() []byte {
	size := 4
	for _, s := range d.States {
		size += 4 + 4*len(s.Ranges)
	}
	out := make([]byte, 0, size)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(d.States)))
	out = append(out, u32[:]...)
	for _, s := range d.States {
		accept := byte(0)
		if s.Accept {
			accept = 1
		}
		out = append(out, accept, 0)
		var u16 [2]byte
		binary.LittleEndian.PutUint16(u16[:], uint16(len(s.Ranges)))
		out = append(out, u16[:]...)
		for _, r := range s.Ranges {
			binary.LittleEndian.PutUint16(u16[:], uint16(r.Next))
			out = append(out, r.Lo, r.Hi, u16[0], u16[1])
		}
	}
	return out
}

// Unmarshal parses one wire-form DFA image.
func Unmarshal(b []byte) (*DFA, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("regexdfa: truncated image (%d bytes)", len(b))
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	d := &DFA{States: make([]State, 0, n)}
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("regexdfa: truncated state %d", i)
		}
		accept := b[0] != 0
		nr := binary.LittleEndian.Uint16(b[2:])
		b = b[4:]
		if len(b) < 4*int(nr) {
			return nil, fmt.Errorf("regexdfa: truncated ranges for state %d", i)
		}
		ranges := make([]Range, nr)
		for j := range ranges {
			ranges[j] = Range{
				Lo:   b[4*j],
				Hi:   b[4*j+1],
				Next: int(binary.LittleEndian.Uint16(b[4*j+2:])),
			}
		}
		b = b[4*int(nr):]
		d.States = append(d.States, State{Accept: accept, Ranges: ranges})
	}
	return d, nil
}
