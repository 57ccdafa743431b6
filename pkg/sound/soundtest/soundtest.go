// Package soundtest serialises sound headers for tests.
package soundtest

import (
	"bytes"
	"encoding/binary"

	"github.com/MrWong99/scoreflow/pkg/sound"
)

// Header serialises d (its HeaderSize is ignored) as a map header.
func Header(d *sound.Descriptor) []byte {
	var chunks bytes.Buffer
	chunk := func(tag string, body []byte) {
		chunks.WriteString(tag)
		chunks.Write(be32(len(body)))
		chunks.Write(body)
	}

	chunk("FRMT", cat(be32(0), be32(d.Format.Bits), be32(d.Format.SampleRate), be32(d.Format.Channels)))
	for _, m := range d.Markers {
		chunk("TEXT", cat(be32(m.Offset), []byte(m.Label), []byte{0}))
	}
	for _, r := range d.Regions {
		chunk("REGN", cat(be32(r.Offset), be32(r.Length)))
	}
	for _, j := range d.Jumps {
		chunk("JUMP", cat(be32(j.Offset), be32(j.Dest), be32(j.HookID), be32(j.FadeDelay)))
	}
	for _, s := range d.Sync {
		var body []byte
		for _, p := range s {
			body = binary.BigEndian.AppendUint16(body, uint16(p.Time))
			body = append(body, byte(p.Width), byte(p.Height))
		}
		chunk("SYNC", body)
	}
	chunk("STOP", be32(0))

	var out bytes.Buffer
	out.WriteString("iMUS")
	out.Write(be32(0))
	out.WriteString("MAP ")
	out.Write(be32(chunks.Len()))
	out.Write(chunks.Bytes())
	out.WriteString("DATA")
	out.Write(be32(0))
	return out.Bytes()
}

// Build returns the header of d followed by data.
func Build(d *sound.Descriptor, data []byte) []byte {
	return append(Header(d), data...)
}

func be32(v int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

func cat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}
