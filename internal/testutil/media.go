// Package testutil provides fixtures shared by package tests: byte-level
// builders for MP4 and MPEG-TS segments, playlist snippets, and an in-memory
// origin that satisfies fetch.Fetcher.
package testutil

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Box encodes an ISO BMFF box around the concatenated children.
func Box(typ string, children ...[]byte) []byte {
	size := 8
	for _, c := range children {
		size += len(c)
	}
	out := make([]byte, 8, size)
	binary.BigEndian.PutUint32(out, uint32(size))
	copy(out[4:], typ)
	for _, c := range children {
		out = append(out, c...)
	}
	return out
}

// MP4Init returns ftyp+moov with a single version 0 mdhd carrying timescale.
func MP4Init(timescale uint32) []byte {
	mdhd := make([]byte, 24)
	binary.BigEndian.PutUint32(mdhd[12:], timescale)
	binary.BigEndian.PutUint16(mdhd[20:], 0x55C4)
	ftyp := Box("ftyp", []byte("iso6\x00\x00\x00\x00iso6"))
	return append(ftyp, Box("moov", Box("trak", Box("mdia", Box("mdhd", mdhd))))...)
}

// MP4Fragment returns a moof whose tfdt (version 0 when the value fits in
// 32 bits) carries baseMediaDecodeTime.
func MP4Fragment(baseMediaDecodeTime uint64) []byte {
	var tfdt []byte
	if baseMediaDecodeTime <= 0xFFFFFFFF {
		tfdt = make([]byte, 8)
		binary.BigEndian.PutUint32(tfdt[4:], uint32(baseMediaDecodeTime))
	} else {
		tfdt = make([]byte, 12)
		tfdt[0] = 1
		binary.BigEndian.PutUint64(tfdt[4:], baseMediaDecodeTime)
	}
	return Box("moof", Box("mfhd", make([]byte, 8)), Box("traf", Box("tfdt", tfdt)))
}

// TSTimestamp encodes a 33-bit PTS in the 5-byte PES layout.
func TSTimestamp(pts uint64) []byte {
	return []byte{
		0x20 | byte(pts>>29)&0x0E | 0x01,
		byte(pts >> 22),
		byte(pts>>14)&0xFE | 0x01,
		byte(pts >> 7),
		byte(pts<<1)&0xFE | 0x01,
	}
}

// TSPacket returns one 188-byte transport packet starting a video PES with
// the given PTS (90 kHz ticks).
func TSPacket(pts uint64) []byte {
	buf := make([]byte, 188)
	for i := range buf {
		buf[i] = 0xFF
	}
	buf[0] = 0x47
	buf[1] = 0x41
	buf[2] = 0x00
	buf[3] = 0x10
	pes := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80, 0x80, 0x05}
	copy(buf[4:], append(pes, TSTimestamp(pts)...))
	return buf
}

// TSSegment returns n packets, the first of which carries pts.
func TSSegment(pts uint64, n int) []byte {
	out := TSPacket(pts)
	for i := 1; i < n; i++ {
		pkt := make([]byte, 188)
		pkt[0] = 0x47
		pkt[1] = 0x01
		pkt[3] = 0x10
		out = append(out, pkt...)
	}
	return out
}

// MediaPlaylist describes a media playlist fixture.
type MediaPlaylist struct {
	TargetDuration int
	MediaSequence  int64
	PlaylistType   string
	Map            string
	Keys           []string
	Segments       []string
	Duration       float64
	EndList        bool
}

// String renders the playlist. Every segment uses Duration seconds.
func (m MediaPlaylist) String() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n")
	if m.TargetDuration > 0 {
		fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", m.TargetDuration)
	}
	if m.MediaSequence > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", m.MediaSequence)
	}
	if m.PlaylistType != "" {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", m.PlaylistType)
	}
	if m.Map != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", m.Map)
	}
	for _, k := range m.Keys {
		fmt.Fprintf(&b, "#EXT-X-KEY:%s\n", k)
	}
	for _, s := range m.Segments {
		fmt.Fprintf(&b, "#EXTINF:%g,\n%s\n", m.Duration, s)
	}
	if m.EndList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
