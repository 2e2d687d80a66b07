package archival

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/confluo-db/confluo/errtype"
)

// ActionKind names the kind of archival step committed to an ActionLog.
type ActionKind uint8

const (
	ActionDataLogBucket ActionKind = iota
	ActionReflogBucket
)

// ActionRecord is one committed archival step, matching spec.md §6's "every
// archival step ends with a commit to a per-writer transaction log
// describing {kind, key_or_offset, bucket_size, data_log_archival_tail}."
type ActionRecord struct {
	Kind ActionKind
	// Key identifies a reflog bucket's radix key; empty for
	// ActionDataLogBucket.
	Key []byte
	// KeyOrOffset is the bucket index for ActionDataLogBucket.
	KeyOrOffset         uint64
	BucketSize          uint64
	DataLogArchivalTail uint64
}

// ActionLog is the append-only, per-multilog transaction log backing
// archival recovery, grounded on
// libconfluo/confluo/archival/archival_metadata.h's action log. Records are
// length-framed so Replay can detect and discard a partial trailing write
// left by a crash mid-append, per spec.md §6's "on startup, the loader
// replays the transaction log and truncates partial writes beyond the last
// committed action."
type ActionLog struct {
	f *os.File
}

// NewActionLog opens (creating if absent) the action log file at path.
func NewActionLog(path string) (*ActionLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "open action log", err)
	}
	return &ActionLog{f: f}, nil
}

// Append commits rec durably (fsync before returning), matching the
// "commits an archival-action record" step of spec.md §6's archival walk.
func (l *ActionLog) Append(rec ActionRecord) error {
	body := make([]byte, 1+2+len(rec.Key)+8+8+8)
	body[0] = byte(rec.Kind)
	binary.BigEndian.PutUint16(body[1:3], uint16(len(rec.Key)))
	n := 3
	n += copy(body[n:], rec.Key)
	binary.BigEndian.PutUint64(body[n:n+8], rec.KeyOrOffset)
	n += 8
	binary.BigEndian.PutUint64(body[n:n+8], rec.BucketSize)
	n += 8
	binary.BigEndian.PutUint64(body[n:n+8], rec.DataLogArchivalTail)

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)

	if _, err := l.f.Write(frame); err != nil {
		return errtype.Wrap(errtype.DurabilityFailed, "append action log record", err)
	}
	if err := l.f.Sync(); err != nil {
		return errtype.Wrap(errtype.DurabilityFailed, "sync action log", err)
	}
	return nil
}

// Replay reads every well-formed record from the start of the log and
// leaves the file positioned for further appends. A short length prefix, a
// frame whose body is cut off by EOF, or a frame that does not decode ends
// the replay, and the file is truncated to the last well-formed record,
// matching spec.md §6's truncate-partial-writes recovery behavior rather
// than failing the whole replay over the last, possibly torn, write.
func (l *ActionLog) Replay() ([]ActionRecord, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "seek action log", err)
	}
	var out []ActionRecord
	var good int64
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(l.f, lenBuf); err != nil {
			break
		}
		n := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, n)
		if _, err := io.ReadFull(l.f, body); err != nil {
			break
		}
		rec, err := decodeActionRecord(body)
		if err != nil {
			break
		}
		out = append(out, rec)
		good += int64(4 + n)
	}
	if err := l.f.Truncate(good); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "truncate action log", err)
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return nil, errtype.Wrap(errtype.DurabilityFailed, "seek action log to end", err)
	}
	return out, nil
}

func decodeActionRecord(body []byte) (ActionRecord, error) {
	var rec ActionRecord
	const fixedSize = 1 + 2 + 8 + 8 + 8
	if len(body) < fixedSize {
		return rec, errtype.New(errtype.CorruptArchive, "action log: short record")
	}
	rec.Kind = ActionKind(body[0])
	keyLen := int(binary.BigEndian.Uint16(body[1:3]))
	n := 3
	if len(body) < n+keyLen+24 {
		return rec, errtype.New(errtype.CorruptArchive, "action log: short record")
	}
	rec.Key = append([]byte(nil), body[n:n+keyLen]...)
	n += keyLen
	rec.KeyOrOffset = binary.BigEndian.Uint64(body[n : n+8])
	n += 8
	rec.BucketSize = binary.BigEndian.Uint64(body[n : n+8])
	n += 8
	rec.DataLogArchivalTail = binary.BigEndian.Uint64(body[n : n+8])
	return rec, nil
}

// Close releases the underlying file handle.
func (l *ActionLog) Close() error { return l.f.Close() }
