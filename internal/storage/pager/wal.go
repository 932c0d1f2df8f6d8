package pager

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// WAL record layout: lsn(u64 LE) | page_id(u32 LE) | image(4096) |
// crc32(u32 LE over the prior three fields). There is no file header and
// no record-type byte — every record is a page image. The log file is
// truncated to zero length on checkpoint.
const (
	walLSNSize     = 8
	walPageIDSize  = 4
	walImageSize   = PageSize
	walCRCSize     = 4
	walRecordSize  = walLSNSize + walPageIDSize + walImageSize + walCRCSize
	walCRCCoverLen = walLSNSize + walPageIDSize + walImageSize
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// WAL is the append-only log of intended page writes. Records are
// buffered in memory by Append and only become durable on Flush.
type WAL struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	nextLSN uint64
	pending []byte // encoded records not yet written to file
}

// OpenWAL opens or creates the WAL file at path, and determines the next
// LSN to assign by scanning any records already present (a WAL that was
// never checkpointed after a crash, or legitimately empty after a clean
// checkpoint). A missing WAL file is created fresh and treated as "no
// pending recovery", identical to a legitimately empty one.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal %s: %v", ErrIO, path, err)
	}
	w := &WAL{file: f, path: path}
	if err := w.scanNextLSN(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// scanNextLSN reads every well-formed record in the file to find the
// highest LSN present, so a reopened WAL keeps assigning strictly
// increasing LSNs. Stops at the first corrupt/truncated record, matching
// replay's own contract.
func (w *WAL) scanNextLSN() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", ErrIO, err)
	}
	var highest uint64
	seen := false
	buf := make([]byte, walRecordSize)
	for {
		if _, err := io.ReadFull(w.file, buf); err != nil {
			break
		}
		lsn, _, _, ok := decodeWALRecord(buf)
		if !ok {
			break
		}
		highest = lsn
		seen = true
	}
	if seen {
		w.nextLSN = highest + 1
	}
	return nil
}

// Append assigns the next LSN, encodes the record with its CRC32, and
// buffers it in memory. It is not durable until Flush.
func (w *WAL) Append(pageID PageID, image []byte) (uint64, error) {
	if len(image) != PageSize {
		return 0, fmt.Errorf("%w: wal image has %d bytes, want %d", ErrInvalidArgument, len(image), PageSize)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++
	rec := encodeWALRecord(lsn, pageID, image)
	w.pending = append(w.pending, rec...)
	return lsn, nil
}

// Flush writes every buffered record to the file and fsyncs it. Durability
// for a transaction is only guaranteed once Flush returns nil.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek wal end: %v", ErrIO, err)
	}
	if _, err := w.file.Write(w.pending); err != nil {
		return fmt.Errorf("%w: write wal: %v", ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync wal: %v", ErrIO, err)
	}
	w.pending = w.pending[:0]
	return nil
}

// ApplyFunc receives one recovered page image during replay.
type ApplyFunc func(pageID PageID, image []byte) error

// Replay scans the WAL from the start, calling apply for each record whose
// CRC validates, in LSN order. On the first record with a bad CRC or a
// truncated tail, replay stops silently — that is the crash-recovery
// contract: everything durably flushed before the crash is a
// well-formed prefix, and the first bad bytes mark the crash point, not a
// fatal error.
func (w *WAL) Replay(apply ApplyFunc) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: seek wal: %v", ErrIO, err)
	}
	buf := make([]byte, walRecordSize)
	applied := 0
	for {
		n, err := io.ReadFull(w.file, buf)
		if err != nil {
			if n > 0 && n < walRecordSize {
				break // truncated tail: treat as end of log
			}
			if err == io.EOF {
				break
			}
			break
		}
		lsn, pageID, image, ok := decodeWALRecord(buf)
		if !ok {
			break
		}
		if err := apply(pageID, image); err != nil {
			return applied, fmt.Errorf("%w: apply lsn %d: %v", ErrWalReplayFailed, lsn, err)
		}
		applied++
	}
	return applied, nil
}

// DiscardPending drops every buffered record that has not yet reached the
// file. A transaction whose commit fails before the WAL fsync uses this so
// its records cannot ride along with a later transaction's Flush.
func (w *WAL) DiscardPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = w.pending[:0]
}

// Checkpoint flushes any buffered records and truncates the log to zero
// length, so the next record written starts a fresh log. No baseline LSN
// is stored: after truncation every record in the file is newer than the
// checkpoint, and Replay applies all of them. LSNs keep increasing for the
// life of this handle; a WAL reopened while empty starts again from 0.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate wal: %v", ErrIO, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", ErrIO, err)
	}
	return nil
}

// Close flushes pending records and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Path returns the WAL file path.
func (w *WAL) Path() string { return w.path }

// Size returns the current on-disk size of the WAL file.
// Buffered-but-unflushed records are not reflected until the next
// Flush.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat wal %s: %v", ErrIO, w.path, err)
	}
	return info.Size(), nil
}

func encodeWALRecord(lsn uint64, pageID PageID, image []byte) []byte {
	buf := make([]byte, walRecordSize)
	putUint64(buf[0:], lsn)
	putUint32(buf[walLSNSize:], uint32(pageID))
	copy(buf[walLSNSize+walPageIDSize:], image)
	crc := crc32.Checksum(buf[:walCRCCoverLen], crcTable)
	putUint32(buf[walCRCCoverLen:], crc)
	return buf
}

func decodeWALRecord(buf []byte) (lsn uint64, pageID PageID, image []byte, ok bool) {
	if len(buf) != walRecordSize {
		return 0, 0, nil, false
	}
	crc := crc32.Checksum(buf[:walCRCCoverLen], crcTable)
	stored := getUint32(buf[walCRCCoverLen:])
	if crc != stored {
		return 0, 0, nil, false
	}
	lsn = getUint64(buf[0:])
	pageID = PageID(getUint32(buf[walLSNSize:]))
	image = make([]byte, walImageSize)
	copy(image, buf[walLSNSize+walPageIDSize:walLSNSize+walPageIDSize+walImageSize])
	return lsn, pageID, image, true
}
