// Package abif reads ABIF containers (.ab1/.abi), the binary format written by
// Applied Biosystems capillary sequencers.
//
// An ABIF file is a 128 byte header followed by data blocks and a directory of
// 28 byte entries. Each entry names a tag (four ASCII bytes plus a number), an
// element type and count, and either the data itself (when it fits in four
// bytes) or an offset to it. Only what is needed to decode traces is validated;
// unknown element types are reported per tag, not for the whole file.
package abif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ErrFormat is wrapped by every error caused by malformed file content,
// as opposed to I/O failures of the underlying reader.
var ErrFormat = errors.New("abif: malformed file")

const (
	magic      = "ABIF"
	headerSize = 128
	entrySize  = 28
	// maxEntries guards against allocating a directory from garbage counts.
	maxEntries = 1 << 16
)

// Element types defined by the ABIF file format.
const (
	TypeByte    = 1
	TypeChar    = 2
	TypeWord    = 3
	TypeShort   = 4
	TypeLong    = 5
	TypeFloat   = 7
	TypeDouble  = 8
	TypeDate    = 10
	TypeTime    = 11
	TypeThumb   = 12
	TypePString = 18
	TypeCString = 19
	TypeDir     = 1023
	// Types at or above TypeUser are user defined structures.
	TypeUser = 1024
)

// A Tag is a key used to look up data, e.g. DATA:9 or PBAS:2.
type Tag struct {
	Name [4]byte
	Num  int32
}

func (t Tag) String() string { return fmt.Sprintf("%s:%d", t.Name[:], t.Num) }

// NewTag builds a Tag. Names shorter than four bytes are padded with spaces
// and longer names are truncated, so NewTag never panics.
func NewTag(name string, num int32) Tag {
	t := Tag{Num: num}
	copy(t.Name[:], "    ")
	copy(t.Name[:], name)
	return t
}

// ref mirrors the on-disk directory entry minus the tag.
type ref struct {
	ElemType int16
	ElemSize int16
	NElem    int32
	DataSize int32
	Data     [4]byte // inline data when DataSize <= 4, else big endian offset
	_        int32   // data handle, unused
}

func (r ref) offset() int64 { return int64(int32(binary.BigEndian.Uint32(r.Data[:]))) }

type entry struct {
	Tag Tag
	Ref ref
}

// Reader gives random access to the tagged values of one ABIF file.
type Reader struct {
	src     io.ReadSeeker
	size    int64
	version uint16
	order   []Tag
	refs    map[Tag]ref
}

// NewReader parses the header and directory of src.
func NewReader(src io.ReadSeeker) (*Reader, error) {
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var header struct {
		Magic   [4]byte
		Version uint16
		Dir     entry
	}
	if err := binary.Read(src, binary.BigEndian, &header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrFormat, size)
		}
		return nil, err
	}
	switch {
	case string(header.Magic[:]) != magic:
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, header.Magic[:])
	case header.Version/100 != 1:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, header.Version)
	}

	n := header.Dir.Ref.NElem
	off := header.Dir.Ref.offset()
	switch {
	case n < 0 || n > maxEntries:
		return nil, fmt.Errorf("%w: bad directory entry count %d", ErrFormat, n)
	case off < 0 || off+int64(n)*entrySize > size:
		return nil, fmt.Errorf("%w: directory [%d, +%d entries] beyond end of file (%d bytes)", ErrFormat, off, n, size)
	}
	if _, err := src.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	entries := make([]entry, n)
	if err := binary.Read(src, binary.BigEndian, &entries); err != nil {
		return nil, fmt.Errorf("%w: read directory: %v", ErrFormat, err)
	}

	r := &Reader{
		src:     src,
		size:    size,
		version: header.Version,
		order:   make([]Tag, 0, len(entries)),
		refs:    make(map[Tag]ref, len(entries)),
	}
	for _, e := range entries {
		if _, dup := r.refs[e.Tag]; !dup {
			r.order = append(r.order, e.Tag)
		}
		r.refs[e.Tag] = e.Ref
	}
	return r, nil
}

// Version returns the header version, e.g. 101.
func (r *Reader) Version() int { return int(r.version) }

// Tags returns the tags in directory order.
func (r *Reader) Tags() []Tag {
	out := make([]Tag, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether t is present in the directory.
func (r *Reader) Has(t Tag) bool {
	_, ok := r.refs[t]
	return ok
}

// ElemType returns the declared element type of t, or 0 when t is absent.
func (r *Reader) ElemType(t Tag) int {
	return int(r.refs[t].ElemType)
}

// NotFoundError is returned when a tag is absent from the directory.
type NotFoundError struct{ Tag Tag }

func (e *NotFoundError) Error() string { return fmt.Sprintf("abif: tag not found: %s", e.Tag) }

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func badValue(t Tag, format string, a ...any) error {
	return fmt.Errorf("%w: tag %s: %s", ErrFormat, t, fmt.Sprintf(format, a...))
}

// raw returns the bytes backing t and its ref.
func (r *Reader) raw(t Tag) ([]byte, ref, error) {
	x, ok := r.refs[t]
	if !ok {
		return nil, x, &NotFoundError{Tag: t}
	}
	if x.DataSize < 0 {
		return nil, x, badValue(t, "negative data size %d", x.DataSize)
	}
	if x.DataSize <= 4 {
		return x.Data[:x.DataSize], x, nil
	}
	off := x.offset()
	if off < 0 || off+int64(x.DataSize) > r.size {
		return nil, x, badValue(t, "data [%d, +%d] beyond end of file (%d bytes)", off, x.DataSize, r.size)
	}
	if _, err := r.src.Seek(off, io.SeekStart); err != nil {
		return nil, x, err
	}
	data := make([]byte, x.DataSize)
	if _, err := io.ReadFull(r.src, data); err != nil {
		return nil, x, badValue(t, "read data: %v", err)
	}
	return data, x, nil
}

// Bytes returns the undecoded bytes of t.
func (r *Reader) Bytes(t Tag) ([]byte, error) {
	b, _, err := r.raw(t)
	return b, err
}

// Value decodes t according to its element type. Single elements decode to
// the scalar Go type (uint8, int8, uint16, int16, int32, float32, float64,
// time.Time, Thumb), arrays to slices of it, and strings to string. User
// defined types are returned as []byte.
func (r *Reader) Value(t Tag) (any, error) {
	data, x, err := r.raw(t)
	if err != nil {
		return nil, err
	}
	if x.ElemType >= TypeUser {
		return data, nil
	}
	switch x.ElemType {
	case TypePString:
		return decodePString(t, data)
	case TypeCString:
		return decodeCString(t, data)
	}
	if x.ElemType < 0 || int(x.ElemType) >= len(codecs) || codecs[x.ElemType].size == 0 {
		return nil, badValue(t, "unknown element type %d", x.ElemType)
	}
	c := codecs[x.ElemType]
	if x.NElem < 1 {
		return nil, badValue(t, "element count %d", x.NElem)
	}
	if int64(x.NElem)*int64(c.size) > int64(len(data)) {
		return nil, badValue(t, "%d elements of %d bytes exceed data size %d", x.NElem, c.size, len(data))
	}
	if x.NElem == 1 {
		return c.one(data), nil
	}
	return c.many(int(x.NElem), data), nil
}

// Shorts decodes t as an array of 16-bit integers. Single values and
// unsigned words are widened to a one element or converted slice.
func (r *Reader) Shorts(t Tag) ([]int16, error) {
	v, err := r.Value(t)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []int16:
		return x, nil
	case int16:
		return []int16{x}, nil
	case []uint16:
		out := make([]int16, len(x))
		for i, w := range x {
			out[i] = int16(w)
		}
		return out, nil
	case uint16:
		return []int16{int16(x)}, nil
	}
	return nil, badValue(t, "want 16-bit integers, have %T", v)
}

// Chars decodes a char or byte array (FWO_, PBAS, PCON...) as a string of
// the raw bytes.
func (r *Reader) Chars(t Tag) (string, error) {
	v, err := r.Value(t)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case []int8:
		b := make([]byte, len(x))
		for i := range x {
			b[i] = byte(x[i])
		}
		return string(b), nil
	case int8:
		return string([]byte{byte(x)}), nil
	case []byte:
		return string(x), nil
	case uint8:
		return string([]byte{x}), nil
	case string:
		return x, nil
	}
	return "", badValue(t, "want characters, have %T", v)
}

// String decodes a pString or cString tag.
func (r *Reader) String(t Tag) (string, error) {
	v, err := r.Value(t)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", badValue(t, "want string, have %T", v)
	}
	return s, nil
}

func decodePString(t Tag, b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	n := int(b[0])
	if n > len(b)-1 {
		return "", badValue(t, "pString length %d exceeds data size %d", n, len(b)-1)
	}
	return string(b[1 : 1+n]), nil
}

func decodeCString(t Tag, b []byte) (string, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return "", badValue(t, "cString without terminator")
}

type codec struct {
	size int
	one  func([]byte) any
	many func(int, []byte) any
}

var codecs = [...]codec{
	TypeByte: {
		size: 1,
		one:  func(b []byte) any { return b[0] },
		many: func(n int, b []byte) any {
			x := make([]byte, n)
			copy(x, b[:n])
			return x
		},
	},
	TypeChar: {
		size: 1,
		one:  func(b []byte) any { return int8(b[0]) },
		many: func(n int, b []byte) any {
			x := make([]int8, n)
			for i := range x {
				x[i] = int8(b[i])
			}
			return x
		},
	},
	TypeWord: {
		size: 2,
		one:  func(b []byte) any { return binary.BigEndian.Uint16(b) },
		many: func(n int, b []byte) any {
			x := make([]uint16, n)
			for i := range x {
				x[i] = binary.BigEndian.Uint16(b[i*2:])
			}
			return x
		},
	},
	TypeShort: {
		size: 2,
		one:  func(b []byte) any { return int16(binary.BigEndian.Uint16(b)) },
		many: func(n int, b []byte) any {
			x := make([]int16, n)
			for i := range x {
				x[i] = int16(binary.BigEndian.Uint16(b[i*2:]))
			}
			return x
		},
	},
	TypeLong: {
		size: 4,
		one:  func(b []byte) any { return int32(binary.BigEndian.Uint32(b)) },
		many: func(n int, b []byte) any {
			x := make([]int32, n)
			for i := range x {
				x[i] = int32(binary.BigEndian.Uint32(b[i*4:]))
			}
			return x
		},
	},
	TypeFloat: {
		size: 4,
		one:  func(b []byte) any { return math.Float32frombits(binary.BigEndian.Uint32(b)) },
		many: func(n int, b []byte) any {
			x := make([]float32, n)
			for i := range x {
				x[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
			}
			return x
		},
	},
	TypeDouble: {
		size: 8,
		one:  func(b []byte) any { return math.Float64frombits(binary.BigEndian.Uint64(b)) },
		many: func(n int, b []byte) any {
			x := make([]float64, n)
			for i := range x {
				x[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
			}
			return x
		},
	},
	TypeDate: {
		size: 4,
		one:  func(b []byte) any { return parseDate(b) },
		many: func(n int, b []byte) any {
			x := make([]time.Time, n)
			for i := range x {
				x[i] = parseDate(b[i*4:])
			}
			return x
		},
	},
	TypeTime: {
		size: 4,
		one:  func(b []byte) any { return parseTime(b) },
		many: func(n int, b []byte) any {
			x := make([]time.Time, n)
			for i := range x {
				x[i] = parseTime(b[i*4:])
			}
			return x
		},
	},
	TypeThumb: {
		size: 10,
		one:  func(b []byte) any { return parseThumb(b) },
		many: func(n int, b []byte) any {
			x := make([]Thumb, n)
			for i := range x {
				x[i] = parseThumb(b[i*10:])
			}
			return x
		},
	},
}

// parseDate decodes {int16 year; uint8 month; uint8 day}.
func parseDate(b []byte) time.Time {
	y := int16(binary.BigEndian.Uint16(b))
	return time.Date(int(y), time.Month(b[2]), int(b[3]), 0, 0, 0, 0, time.UTC)
}

// parseTime decodes {uint8 hour, minute, second, hundredths}.
func parseTime(b []byte) time.Time {
	const centisecond = int(10 * time.Millisecond)
	return time.Date(0, 1, 1, int(b[0]), int(b[1]), int(b[2]), int(b[3])*centisecond, time.UTC)
}

// A Thumb is the ABIF thumbprint, a file identifier generated by the instrument.
type Thumb struct {
	D int32
	U int32
	C uint8
	N uint8
}

func parseThumb(b []byte) Thumb {
	return Thumb{
		D: int32(binary.BigEndian.Uint32(b)),
		U: int32(binary.BigEndian.Uint32(b[4:])),
		C: b[8],
		N: b[9],
	}
}
