package record

import (
	"math"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// serialType maps a Value to its record type code (§4.E).
func serialType(v Value) uint64 {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInteger:
		switch {
		case v.I == 0:
			return 8
		case v.I == 1:
			return 9
		default:
			return uint64(intTypeCode(v.I))
		}
	case KindFloat:
		return 7
	case KindText:
		return uint64(13 + 2*len(v.S))
	default: // KindBlob
		return uint64(12 + 2*len(v.B))
	}
}

// intTypeCode picks the narrowest of the six signed-int widths (1, 2,
// 3, 4, 6, or 8 bytes) that losslessly represents i, returning the
// corresponding type code 1-6.
func intTypeCode(i int64) int {
	switch {
	case i >= -(1<<7) && i < 1<<7:
		return 1
	case i >= -(1<<15) && i < 1<<15:
		return 2
	case i >= -(1<<23) && i < 1<<23:
		return 3
	case i >= -(1<<31) && i < 1<<31:
		return 4
	case i >= -(1<<47) && i < 1<<47:
		return 5
	default:
		return 6
	}
}

func intWidthForCode(code uint64) int {
	switch code {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 3
	case 4:
		return 4
	case 5:
		return 6
	case 6:
		return 8
	}
	return 0
}

// serialLen returns the number of body bytes a serial type occupies.
func serialLen(st uint64) int {
	switch {
	case st == 0, st == 8, st == 9:
		return 0
	case st >= 1 && st <= 6:
		return intWidthForCode(st)
	case st == 7:
		return 8
	case st >= 12 && st%2 == 0:
		return int((st - 12) / 2)
	case st >= 13:
		return int((st - 13) / 2)
	default:
		return 0
	}
}

// EncodeRecord serializes values into SQLite's record format: a varint
// header length, one varint serial-type per column, then the
// concatenated bodies in the same order.
func EncodeRecord(values []Value) []byte {
	serials := make([]uint64, len(values))
	bodyLen := 0
	headerBody := 0 // serial-type varints themselves, excluding the length prefix
	for i, v := range values {
		st := serialType(v)
		serials[i] = st
		headerBody += VarintLen(st)
		bodyLen += serialLen(st)
	}
	// The header-length varint encodes its own size, so iterate until
	// stable (at most one extra byte can ever change the varint width).
	hdrLen := headerBody + 1
	for {
		n := VarintLen(uint64(hdrLen))
		if n+headerBody == hdrLen {
			break
		}
		hdrLen = n + headerBody
	}
	out := make([]byte, 0, hdrLen+bodyLen)
	out = PutVarint(out, uint64(hdrLen))
	for _, st := range serials {
		out = PutVarint(out, st)
	}
	for i, v := range values {
		out = appendBody(out, v, serials[i])
	}
	return out
}

func appendBody(out []byte, v Value, st uint64) []byte {
	switch {
	case st == 0, st == 8, st == 9:
		return out
	case st >= 1 && st <= 6:
		return appendIntBody(out, v.I, intWidthForCode(st))
	case st == 7:
		bits := math.Float64bits(v.F)
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(bits >> (56 - 8*i))
		}
		return append(out, b[:]...)
	case st >= 12 && st%2 == 0:
		return append(out, v.B...)
	default:
		return append(out, []byte(v.S)...)
	}
}

func appendIntBody(out []byte, i int64, width int) []byte {
	u := uint64(i)
	buf := make([]byte, width)
	for k := 0; k < width; k++ {
		buf[width-1-k] = byte(u >> (8 * k))
	}
	return append(out, buf...)
}

// DecodeRecord parses bytes produced by EncodeRecord back into values.
func DecodeRecord(buf []byte) ([]Value, error) {
	hdrLen, n := DecodeVarint(buf)
	if n == 0 || int(hdrLen) > len(buf) {
		return nil, fsqliteerr.New(fsqliteerr.Corrupt, "record: bad header length")
	}
	header := buf[n:hdrLen]
	body := buf[hdrLen:]
	var serials []uint64
	for len(header) > 0 {
		st, used := DecodeVarint(header)
		if used == 0 {
			return nil, fsqliteerr.New(fsqliteerr.Corrupt, "record: truncated serial type")
		}
		serials = append(serials, st)
		header = header[used:]
	}
	values := make([]Value, len(serials))
	off := 0
	for i, st := range serials {
		l := serialLen(st)
		if off+l > len(body) {
			return nil, fsqliteerr.New(fsqliteerr.Corrupt, "record: body truncated")
		}
		values[i] = decodeValue(st, body[off:off+l])
		off += l
	}
	return values, nil
}

func decodeValue(st uint64, b []byte) Value {
	switch {
	case st == 0:
		return Null()
	case st == 8:
		return Integer(0)
	case st == 9:
		return Integer(1)
	case st >= 1 && st <= 6:
		width := intWidthForCode(st)
		var u uint64
		for k := 0; k < width; k++ {
			u = (u << 8) | uint64(b[k])
		}
		// sign-extend from the narrow width
		shift := uint(64 - 8*width)
		i := int64(u<<shift) >> shift
		return Integer(i)
	case st == 7:
		var bits uint64
		for k := 0; k < 8; k++ {
			bits = (bits << 8) | uint64(b[k])
		}
		return Float(math.Float64frombits(bits))
	case st >= 12 && st%2 == 0:
		return Blob(append([]byte(nil), b...))
	default:
		return Text(string(b))
	}
}
