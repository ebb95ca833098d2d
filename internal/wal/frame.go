// Package wal implements the write-ahead log and its shared-memory
// index: frame append with the reference cumulative checksum, the
// 383/8191 WAL-index hash table, deterministic recovery, and the three
// checkpoint modes.
package wal

import "encoding/binary"

// FileHeaderSize is the 32-byte WAL file header (§6).
const FileHeaderSize = 32

// FrameHeaderSize is the 24-byte per-frame header (§3).
const FrameHeaderSize = 24

// Magic values distinguish big-endian (0x377f0682) vs little-endian
// (0x377f0683) checksum byte order, matching the reference format; this
// implementation always writes big-endian checksums.
const (
	MagicBigEndian    uint32 = 0x377f0682
	MagicLittleEndian uint32 = 0x377f0683
)

// FileHeader is the WAL file's 32-byte header.
type FileHeader struct {
	Magic        uint32
	FormatVersion uint32
	PageSize     uint32
	CheckpointSeq uint32
	Salt1, Salt2 uint32
	Checksum1, Checksum2 uint32
}

func (h FileHeader) Encode() [FileHeaderSize]byte {
	var buf [FileHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.BigEndian.PutUint32(buf[8:12], h.PageSize)
	binary.BigEndian.PutUint32(buf[12:16], h.CheckpointSeq)
	binary.BigEndian.PutUint32(buf[16:20], h.Salt1)
	binary.BigEndian.PutUint32(buf[20:24], h.Salt2)
	binary.BigEndian.PutUint32(buf[24:28], h.Checksum1)
	binary.BigEndian.PutUint32(buf[28:32], h.Checksum2)
	return buf
}

func DecodeFileHeader(buf []byte) (FileHeader, bool) {
	if len(buf) < FileHeaderSize {
		return FileHeader{}, false
	}
	h := FileHeader{
		Magic:         binary.BigEndian.Uint32(buf[0:4]),
		FormatVersion: binary.BigEndian.Uint32(buf[4:8]),
		PageSize:      binary.BigEndian.Uint32(buf[8:12]),
		CheckpointSeq: binary.BigEndian.Uint32(buf[12:16]),
		Salt1:         binary.BigEndian.Uint32(buf[16:20]),
		Salt2:         binary.BigEndian.Uint32(buf[20:24]),
		Checksum1:     binary.BigEndian.Uint32(buf[24:28]),
		Checksum2:     binary.BigEndian.Uint32(buf[28:32]),
	}
	if h.Magic != MagicBigEndian && h.Magic != MagicLittleEndian {
		return FileHeader{}, false
	}
	// Header self-checksum over the first 24 bytes must match.
	c1, c2 := cksum(0, 0, buf[0:24])
	if c1 != h.Checksum1 || c2 != h.Checksum2 {
		return FileHeader{}, false
	}
	return h, true
}

// FrameHeader is one 24-byte frame prefix.
type FrameHeader struct {
	PageNo      uint32
	DBSizeAfter uint32 // nonzero => this frame commits a transaction
	Salt1, Salt2 uint32
	Checksum1, Checksum2 uint32
}

func (f FrameHeader) Encode() [FrameHeaderSize]byte {
	var buf [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], f.PageNo)
	binary.BigEndian.PutUint32(buf[4:8], f.DBSizeAfter)
	binary.BigEndian.PutUint32(buf[8:12], f.Salt1)
	binary.BigEndian.PutUint32(buf[12:16], f.Salt2)
	binary.BigEndian.PutUint32(buf[16:20], f.Checksum1)
	binary.BigEndian.PutUint32(buf[20:24], f.Checksum2)
	return buf
}

func DecodeFrameHeader(buf []byte) FrameHeader {
	return FrameHeader{
		PageNo:      binary.BigEndian.Uint32(buf[0:4]),
		DBSizeAfter: binary.BigEndian.Uint32(buf[4:8]),
		Salt1:       binary.BigEndian.Uint32(buf[8:12]),
		Salt2:       binary.BigEndian.Uint32(buf[12:16]),
		Checksum1:   binary.BigEndian.Uint32(buf[16:20]),
		Checksum2:   binary.BigEndian.Uint32(buf[20:24]),
	}
}

// cksum is the reference WAL cumulative checksum: a Fibonacci-weight
// running hash over 8-byte words seeded by (s0, s1), folding 4 bytes at
// a time two words per step. The same function seeds the file header's
// self-checksum (over the first 24 header bytes) and chains across
// every frame (seeded by the previous frame's output, or the header's
// for the first frame), so a single mismatch anywhere downstream is
// detectable without re-scanning from frame zero.
func cksum(s0, s1 uint32, data []byte) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		x0 := binary.BigEndian.Uint32(data[i : i+4])
		x1 := binary.BigEndian.Uint32(data[i+4 : i+8])
		s0 = s0 + x0 + s1
		s1 = s1 + x1 + s0
	}
	return s0, s1
}

// FrameChecksum computes the cumulative checksum of a frame given the
// running state from the prior frame (or the header, for frame 1),
// over the first 8 bytes of the frame header (page-no + db-size) plus
// the full page payload. The two salt words are NOT hashed per-frame;
// they are fixed for the WAL's lifetime and instead validated by
// comparison against the file header's salts, matching the reference
// design where salts authenticate "this frame belongs to this WAL
// incarnation" while the cumulative checksum authenticates content.
func FrameChecksum(prev0, prev1 uint32, pageNoAndSize [8]byte, page []byte) (uint32, uint32) {
	s0, s1 := cksum(prev0, prev1, pageNoAndSize[:])
	return cksum(s0, s1, page)
}
