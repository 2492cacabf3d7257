package abif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// An Entry is one tagged value to be written by Encode.
type Entry struct {
	Tag      Tag
	ElemType int16
	ElemSize int16
	NElem    int32
	Data     []byte
}

// ShortsEntry returns a short array entry (e.g. DATA:9, PLOC:2).
func ShortsEntry(t Tag, v []int16) Entry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint16(b[i*2:], uint16(x))
	}
	return Entry{Tag: t, ElemType: TypeShort, ElemSize: 2, NElem: int32(len(v)), Data: b}
}

// CharsEntry returns a char array entry (e.g. FWO_:1, PBAS:2).
func CharsEntry(t Tag, s string) Entry {
	return Entry{Tag: t, ElemType: TypeChar, ElemSize: 1, NElem: int32(len(s)), Data: []byte(s)}
}

// PStringEntry returns a Pascal string entry (e.g. SMPL:1).
func PStringEntry(t Tag, s string) Entry {
	if len(s) > 255 {
		s = s[:255]
	}
	b := append([]byte{byte(len(s))}, s...)
	return Entry{Tag: t, ElemType: TypePString, ElemSize: 1, NElem: int32(len(b)), Data: b}
}

// Encode writes a version 1.01 ABIF container holding entries. Values larger
// than four bytes are laid out after the header in entry order, followed by
// the directory.
func Encode(w io.Writer, entries []Entry) error {
	var body bytes.Buffer
	dir := make([]entry, 0, len(entries))
	for _, e := range entries {
		x := ref{
			ElemType: e.ElemType,
			ElemSize: e.ElemSize,
			NElem:    e.NElem,
			DataSize: int32(len(e.Data)),
		}
		if len(e.Data) <= 4 {
			copy(x.Data[:], e.Data)
		} else {
			binary.BigEndian.PutUint32(x.Data[:], uint32(headerSize+body.Len()))
			body.Write(e.Data)
		}
		dir = append(dir, entry{Tag: e.Tag, Ref: x})
	}

	dirRef := ref{
		ElemType: TypeDir,
		ElemSize: entrySize,
		NElem:    int32(len(dir)),
		DataSize: int32(len(dir) * entrySize),
	}
	binary.BigEndian.PutUint32(dirRef.Data[:], uint32(headerSize+body.Len()))
	header := struct {
		Magic   [4]byte
		Version uint16
		Dir     entry
	}{
		Version: 101,
		Dir:     entry{Tag: NewTag("tdir", 1), Ref: dirRef},
	}
	copy(header.Magic[:], magic)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, &header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	out.Write(make([]byte, headerSize-out.Len()))
	out.Write(body.Bytes())
	if err := binary.Write(&out, binary.BigEndian, dir); err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}
	_, err := w.Write(out.Bytes())
	return err
}
