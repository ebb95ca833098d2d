package wal

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/vfs"
)

// FlushToSharedSegment wires the WAL-index's in-memory segments to a
// real SharedSegment (§9: "Model them behind an abstract SharedSegment
// interface"). Each 32 KiB region mirrors one segment's hash table and
// page-number array so a second connection mapping the same
// SharedSegment can reconstruct Lookup results without re-scanning the
// WAL file, the same lazy-build-on-open contract §4.C describes.
func (x *Index) FlushToSharedSegment(seg vfs.SharedSegment) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, s := range x.segs {
		region, err := seg.Map(i, SegmentSize, true)
		if err != nil {
			return err
		}
		encodeSegmentInto(region, i, s)
	}
	seg.Barrier()
	return nil
}

func encodeSegmentInto(region []byte, idx int, s *segment) {
	off := 0
	if idx == 0 {
		off = Segment0HeaderBytes
	}
	for i, h := range s.hash {
		binary.BigEndian.PutUint16(region[off+i*2:off+i*2+2], h)
	}
	off += HashSlots * 2
	for i, pg := range s.pgno {
		binary.BigEndian.PutUint32(region[off+i*4:off+i*4+4], pg)
	}
}

// LoadFromSharedSegment rebuilds an Index's segments by reading back
// bytes a prior FlushToSharedSegment wrote, for a second connection
// attaching to an already-active WAL.
func LoadFromSharedSegment(seg vfs.SharedSegment, segmentCount int) (*Index, error) {
	x := NewIndex()
	for i := 0; i < segmentCount; i++ {
		region, err := seg.Map(i, SegmentSize, false)
		if err != nil {
			return nil, err
		}
		s := newSegment(i)
		off := 0
		if i == 0 {
			off = Segment0HeaderBytes
		}
		for j := range s.hash {
			s.hash[j] = binary.BigEndian.Uint16(region[off+j*2 : off+j*2+2])
		}
		off += HashSlots * 2
		used := 0
		for j := range s.pgno {
			s.pgno[j] = binary.BigEndian.Uint32(region[off+j*4 : off+j*4+4])
			if s.pgno[j] != 0 {
				used++
			}
		}
		s.used = used
		x.segs = append(x.segs, s)
	}
	// Rebuild the fast pageToFrame map from the hash tables: the most
	// recently flushed value per slot is authoritative since Insert
	// already folds revisits in place.
	frameNo := 0
	for _, s := range x.segs {
		for _, pg := range s.pgno {
			frameNo++
			if pg != 0 {
				x.pageToFrame[pg] = frameNo
			}
		}
	}
	return x, nil
}
