// Package format defines the on-disk archival headers of spec.md §6,
// bit-compatible in spirit with
// original_source/libconfluo/confluo/archival/archival_headers.h and
// metadata.h: every archived bucket is preceded by a header naming its
// codec, sizes and any filter/index metadata needed to replay it. Filter and
// index headers are fixed-size; bucket headers add a length-prefixed
// encoding name, and reflog bucket headers a length-prefixed key.
package format

import (
	"encoding/binary"
	"io"

	"github.com/confluo-db/confluo/conf"
	"github.com/confluo-db/confluo/errtype"
)

const magic uint32 = 0x434f4e46 // "CONF"

// LinearBucketHeader precedes an archived monolog.Linear bucket
// (monolog_linear_archival_header in archival_headers.h).
type LinearBucketHeader struct {
	Magic       uint32
	BucketIdx   uint64
	DataSize    uint64
	EncodedSize uint64
	Encoding    conf.EncodingType
}

// ReflogBucketHeader precedes an archived radix-tree leaf's reflog
// (reflog_archival_header).
type ReflogBucketHeader struct {
	Magic       uint32
	Key         []byte
	NumOffsets  uint64
	EncodedSize uint64
	Encoding    conf.EncodingType
}

// FilterHeader precedes a filter's whole archived index
// (filter_archival_header / filter_aggregates_archival_header combined,
// since the two are always written and read together here).
type FilterHeader struct {
	Magic        uint32
	FilterID     uint32
	NumBuckets   uint64
	NumAggregates uint32
}

// IndexHeader precedes a secondary index's archived tree
// (index_archival_header).
type IndexHeader struct {
	Magic      uint32
	ColumnIdx  uint32
	KeyWidth   uint32
	NumBuckets uint64
}

func writeEncoding(w io.Writer, enc conf.EncodingType) error {
	b := make([]byte, 2, 2+len(enc))
	binary.BigEndian.PutUint16(b, uint16(len(enc)))
	b = append(b, []byte(enc)...)
	_, err := w.Write(b)
	return err
}

func readEncoding(r io.Reader) (conf.EncodingType, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return conf.EncodingType(buf), nil
}

// WriteLinearBucketHeader serializes h to w.
func WriteLinearBucketHeader(w io.Writer, h LinearBucketHeader) error {
	fixed := make([]byte, 4+8+8+8)
	binary.BigEndian.PutUint32(fixed[0:4], magic)
	binary.BigEndian.PutUint64(fixed[4:12], h.BucketIdx)
	binary.BigEndian.PutUint64(fixed[12:20], h.DataSize)
	binary.BigEndian.PutUint64(fixed[20:28], h.EncodedSize)
	if _, err := w.Write(fixed); err != nil {
		return err
	}
	return writeEncoding(w, h.Encoding)
}

// ReadLinearBucketHeader deserializes a LinearBucketHeader from r.
func ReadLinearBucketHeader(r io.Reader) (LinearBucketHeader, error) {
	var h LinearBucketHeader
	fixed := make([]byte, 4+8+8+8)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, err
	}
	if got := binary.BigEndian.Uint32(fixed[0:4]); got != magic {
		return h, errtype.New(errtype.CorruptArchive, "linear bucket header: bad magic")
	}
	h.Magic = magic
	h.BucketIdx = binary.BigEndian.Uint64(fixed[4:12])
	h.DataSize = binary.BigEndian.Uint64(fixed[12:20])
	h.EncodedSize = binary.BigEndian.Uint64(fixed[20:28])
	enc, err := readEncoding(r)
	if err != nil {
		return h, err
	}
	h.Encoding = enc
	return h, nil
}

// WriteReflogBucketHeader serializes h to w.
func WriteReflogBucketHeader(w io.Writer, h ReflogBucketHeader) error {
	fixed := make([]byte, 4+2+8+8)
	binary.BigEndian.PutUint32(fixed[0:4], magic)
	binary.BigEndian.PutUint16(fixed[4:6], uint16(len(h.Key)))
	binary.BigEndian.PutUint64(fixed[6:14], h.NumOffsets)
	binary.BigEndian.PutUint64(fixed[14:22], h.EncodedSize)
	if _, err := w.Write(fixed); err != nil {
		return err
	}
	if _, err := w.Write(h.Key); err != nil {
		return err
	}
	return writeEncoding(w, h.Encoding)
}

// ReadReflogBucketHeader deserializes a ReflogBucketHeader from r.
func ReadReflogBucketHeader(r io.Reader) (ReflogBucketHeader, error) {
	var h ReflogBucketHeader
	fixed := make([]byte, 4+2+8+8)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, err
	}
	if got := binary.BigEndian.Uint32(fixed[0:4]); got != magic {
		return h, errtype.New(errtype.CorruptArchive, "reflog bucket header: bad magic")
	}
	h.Magic = magic
	keyLen := binary.BigEndian.Uint16(fixed[4:6])
	h.NumOffsets = binary.BigEndian.Uint64(fixed[6:14])
	h.EncodedSize = binary.BigEndian.Uint64(fixed[14:22])
	h.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, h.Key); err != nil {
		return h, err
	}
	enc, err := readEncoding(r)
	if err != nil {
		return h, err
	}
	h.Encoding = enc
	return h, nil
}

// WriteFilterHeader serializes h to w.
func WriteFilterHeader(w io.Writer, h FilterHeader) error {
	buf := make([]byte, 4+4+8+4)
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], h.FilterID)
	binary.BigEndian.PutUint64(buf[8:16], h.NumBuckets)
	binary.BigEndian.PutUint32(buf[16:20], h.NumAggregates)
	_, err := w.Write(buf)
	return err
}

// ReadFilterHeader deserializes a FilterHeader from r.
func ReadFilterHeader(r io.Reader) (FilterHeader, error) {
	var h FilterHeader
	buf := make([]byte, 4+4+8+4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, err
	}
	if got := binary.BigEndian.Uint32(buf[0:4]); got != magic {
		return h, errtype.New(errtype.CorruptArchive, "filter header: bad magic")
	}
	h.Magic = magic
	h.FilterID = binary.BigEndian.Uint32(buf[4:8])
	h.NumBuckets = binary.BigEndian.Uint64(buf[8:16])
	h.NumAggregates = binary.BigEndian.Uint32(buf[16:20])
	return h, nil
}

// WriteIndexHeader serializes h to w.
func WriteIndexHeader(w io.Writer, h IndexHeader) error {
	buf := make([]byte, 4+4+4+8)
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], h.ColumnIdx)
	binary.BigEndian.PutUint32(buf[8:12], h.KeyWidth)
	binary.BigEndian.PutUint64(buf[12:20], h.NumBuckets)
	_, err := w.Write(buf)
	return err
}

// ReadIndexHeader deserializes an IndexHeader from r.
func ReadIndexHeader(r io.Reader) (IndexHeader, error) {
	var h IndexHeader
	buf := make([]byte, 4+4+4+8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, err
	}
	if got := binary.BigEndian.Uint32(buf[0:4]); got != magic {
		return h, errtype.New(errtype.CorruptArchive, "index header: bad magic")
	}
	h.Magic = magic
	h.ColumnIdx = binary.BigEndian.Uint32(buf[4:8])
	h.KeyWidth = binary.BigEndian.Uint32(buf[8:12])
	h.NumBuckets = binary.BigEndian.Uint64(buf[12:20])
	return h, nil
}
