package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
)

// ReplayStats summarizes one sequential scan of the log.
type ReplayStats struct {
	RecordsRead    int
	ValidLength    int64 // byte offset of the last well-formed record boundary
	TotalLength    int64 // size of the file as scanned
	TornTail       bool
}

// TruncatedBytes is how many trailing bytes were discarded as a torn tail.
func (s ReplayStats) TruncatedBytes() int64 { return s.TotalLength - s.ValidLength }

// Visitor receives each well-formed record in file order. Grouping records
// into transactions and deciding which to apply is recovery's job, not
// wal's; this package only guarantees it hands the visitor records that
// passed their length and CRC checks.
type Visitor func(Record) error

// Replay opens path read-only and sequentially scans it, calling visit for
// every record that passes its length and CRC checks. On the first check
// failure, the remaining bytes (including the failing record) are treated
// as a torn tail from an interrupted append: they are reported in the
// returned stats but do not fail Replay. Replay does not truncate the file
// itself — callers that want the file physically truncated call
// TruncateTornTail with stats.ValidLength.
func Replay(path string, visit Visitor) (ReplayStats, error) {
	logger := log.WithComponent("wal-replay")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return ReplayStats{}, nil
	}
	if err != nil {
		return ReplayStats{}, err
	}
	defer f.Close()

	return replayFrom(f, visit, logger)
}

func replayFrom(f *os.File, visit Visitor, logger zerolog.Logger) (ReplayStats, error) {
	var stats ReplayStats
	var offset int64

	info, err := f.Stat()
	if err == nil {
		stats.TotalLength = info.Size()
	}

	torn := func(recordStart int64, reason string) {
		stats.TornTail = true
		stats.ValidLength = recordStart
		logger.Warn().Int64("offset", recordStart).Str("reason", reason).Msg("torn wal tail, discarding remainder")
	}

	for {
		recordStart := offset
		lenBuf := make([]byte, 4)
		n, err := io.ReadFull(f, lenBuf)
		if err == io.EOF {
			stats.ValidLength = recordStart
			return stats, nil
		}
		if err != nil || n < 4 {
			torn(recordStart, "truncated length prefix")
			return stats, nil
		}
		offset += 4
		length := binary.BigEndian.Uint32(lenBuf)
		if length < 4 {
			torn(recordStart, "record length smaller than crc field")
			return stats, nil
		}
		if recordStart+4+int64(length) > stats.TotalLength {
			torn(recordStart, "record extends past eof")
			return stats, nil
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(f, body); err != nil {
			torn(recordStart, "short read")
			return stats, nil
		}
		offset += int64(length)

		typeAndPayload := body[:length-4]
		wantCRC := binary.BigEndian.Uint32(body[length-4:])
		gotCRC := crc32.ChecksumIEEE(typeAndPayload)
		if gotCRC != wantCRC {
			torn(recordStart, "crc mismatch")
			return stats, nil
		}

		rec := Record{Type: RecordType(typeAndPayload[0]), Payload: typeAndPayload[1:]}
		if err := visit(rec); err != nil {
			stats.ValidLength = offset
			return stats, err
		}
		stats.RecordsRead++
	}
}

// TruncateTornTail physically truncates path to validLength, discarding a
// torn tail reported by Replay's stats.
func TruncateTornTail(path string, validLength int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(validLength)
}
