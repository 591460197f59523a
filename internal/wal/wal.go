// Package wal implements an append-only write-ahead log: typed records
// (BEGIN/COMMIT/INSERT/UPDATE/DELETE), REDO-only recovery, and the
// commit-set computation ROLLBACK and crash recovery both rely on. The
// log is never truncated, is opened with append semantics, and is not
// fsynced per record — only COMMIT triggers a data file flush.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
	"github.com/pagesql/pagesql/internal/pager"
)

// RecordType identifies a WAL record's kind.
type RecordType uint32

const (
	Begin  RecordType = 0
	Commit RecordType = 1
	Insert RecordType = 2
	Update RecordType = 3
	Delete RecordType = 4
)

func (rt RecordType) String() string {
	switch rt {
	case Begin:
		return "begin"
	case Commit:
		return "commit"
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(rt))
	}
}

// headerSize is {lsn u64, type u32, tx_id u32, value_len u16}.
const headerSize = 8 + 4 + 4 + 2

// Record is one decoded WAL entry.
type Record struct {
	LSN      uint64
	Type     RecordType
	TxID     pager.TxID
	Key      int32
	Value    []byte // INSERT/UPDATE payload, trailing NUL stripped
	ValueLen uint16 // raw on-disk length, NUL included
}

// WAL is an append-only log file.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	nextLSN uint64
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Open opens (creating if missing) the WAL file at path with append
// semantics and determines the next LSN by scanning existing records.
func Open(path string, m *metrics.Metrics, log *logger.Logger) (*WAL, error) {
	if log == nil {
		log = logger.Nop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &WAL{f: f, path: path, metrics: m, log: log.Component("wal")}
	records, err := w.readAllLocked()
	if err != nil {
		f.Close()
		return nil, err
	}
	for _, r := range records {
		if r.LSN >= w.nextLSN {
			w.nextLSN = r.LSN + 1
		}
	}
	return w, nil
}

func (w *WAL) append(rt RecordType, tx pager.TxID, key int32, value []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++

	var valueLen uint16
	var payloadExtra []byte
	switch rt {
	case Begin, Commit:
		// no payload
	case Delete:
		payloadExtra = make([]byte, 4)
		binary.LittleEndian.PutUint32(payloadExtra, uint32(key))
	case Insert, Update:
		payloadExtra = make([]byte, 4+len(value)+1)
		binary.LittleEndian.PutUint32(payloadExtra, uint32(key))
		copy(payloadExtra[4:], value)
		// trailing NUL included in value_len, stripped on recovery
		valueLen = uint16(len(value) + 1)
	}

	buf := make([]byte, headerSize+len(payloadExtra))
	binary.LittleEndian.PutUint64(buf[0:8], lsn)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rt))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(tx))
	binary.LittleEndian.PutUint16(buf[16:18], valueLen)
	copy(buf[headerSize:], payloadExtra)

	if _, err := w.f.Write(buf); err != nil {
		w.log.Error().Err(err).Msg("fatal I/O error appending WAL record")
		return 0, fmt.Errorf("wal: fatal: append: %w", err)
	}
	if w.metrics != nil {
		w.metrics.WALRecords.WithLabelValues(rt.String()).Inc()
	}
	return lsn, nil
}

func (w *WAL) AppendBegin(tx pager.TxID) (uint64, error)  { return w.append(Begin, tx, 0, nil) }
func (w *WAL) AppendCommit(tx pager.TxID) (uint64, error) { return w.append(Commit, tx, 0, nil) }
func (w *WAL) AppendDelete(tx pager.TxID, key int32) (uint64, error) {
	return w.append(Delete, tx, key, nil)
}
func (w *WAL) AppendInsert(tx pager.TxID, key int32, value []byte) (uint64, error) {
	return w.append(Insert, tx, key, value)
}
func (w *WAL) AppendUpdate(tx pager.TxID, key int32, value []byte) (uint64, error) {
	return w.append(Update, tx, key, value)
}

// Sync flushes the WAL file to stable storage. Not called per record by
// default — COMMIT's data-file flush is the durability boundary; Sync is
// for the optional background checkpoint.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the WAL's file path.
func (w *WAL) Path() string { return w.path }

// readAllLocked scans every record from the start of the file. Caller
// must hold w.mu (or call before any concurrent access, as Open does).
// A truncated trailing record stops the scan at that point: records
// already read stay applied.
func (w *WAL) readAllLocked() ([]Record, error) {
	if _, err := w.f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("wal: seek: %w", err)
	}
	var records []Record
	hdr := make([]byte, headerSize)
	for {
		n, err := readFull(w.f, hdr)
		if n == 0 && err != nil {
			break
		}
		if n < headerSize {
			break // truncated header, stop scanning
		}
		lsn := binary.LittleEndian.Uint64(hdr[0:8])
		rt := RecordType(binary.LittleEndian.Uint32(hdr[8:12]))
		tx := pager.TxID(binary.LittleEndian.Uint32(hdr[12:16]))
		valueLen := binary.LittleEndian.Uint16(hdr[16:18])

		rec := Record{LSN: lsn, Type: rt, TxID: tx, ValueLen: valueLen}
		switch rt {
		case Begin, Commit:
			// no payload
		case Delete:
			keyBuf := make([]byte, 4)
			if n, _ := readFull(w.f, keyBuf); n < 4 {
				return records, nil // truncated tail, discard this record
			}
			rec.Key = int32(binary.LittleEndian.Uint32(keyBuf))
		case Insert, Update:
			payload := make([]byte, 4+int(valueLen))
			n, _ := readFull(w.f, payload)
			if n < len(payload) {
				return records, nil // truncated tail, discard this record
			}
			rec.Key = int32(binary.LittleEndian.Uint32(payload[0:4]))
			if valueLen > 0 {
				rec.Value = payload[4 : 4+int(valueLen)-1] // strip trailing NUL
			}
		default:
			return records, nil // unknown type tag: treat as truncated/corrupt tail
		}
		records = append(records, rec)
	}
	// Seek back to end so subsequent appends go through O_APPEND semantics
	// from the true end of file, not the point we stopped scanning.
	w.f.Seek(0, 2)
	return records, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("wal: eof")
		}
	}
	return total, nil
}

// ReadAll returns every decoded record from the start of the file,
// including ones that belong to uncommitted or aborted transactions. Used
// by CommittedTxIDs and the recovery package.
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readAllLocked()
}

// CommittedTxIDs scans the whole log and returns the set of tx_ids that
// have a COMMIT record.
func (w *WAL) CommittedTxIDs() (map[pager.TxID]bool, error) {
	records, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	committed := make(map[pager.TxID]bool)
	for _, r := range records {
		if r.Type == Commit {
			committed[r.TxID] = true
		}
	}
	return committed, nil
}
