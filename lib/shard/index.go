package shard

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Value encoding
// --------------------------------------------------------------------------

// docHeaderSize is the size of the header stored in front of every value:
// version (8 bytes) | seqNo (8 bytes)
const docHeaderSize = 16

func encodeDoc(version, seqNo int64, value []byte) []byte {
	buf := make([]byte, docHeaderSize+len(value))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(version))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(seqNo))
	copy(buf[docHeaderSize:], value)
	return buf
}

func decodeDoc(buf []byte) (Doc, error) {
	if len(buf) < docHeaderSize {
		return Doc{}, errors.Newf("corrupt document: %d bytes is shorter than the header", len(buf))
	}
	value := make([]byte, len(buf)-docHeaderSize)
	copy(value, buf[docHeaderSize:])
	return Doc{
		Version: int64(binary.LittleEndian.Uint64(buf[0:8])),
		SeqNo:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		Value:   value,
	}, nil
}

// --------------------------------------------------------------------------
// Searchable index
// --------------------------------------------------------------------------

// pebbleReader is satisfied by *pebble.DB and *pebble.Snapshot
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// searchIndex is the searchable part of a shard: a Pebble store on an
// in-memory file system plus the point-in-time snapshot (reader) that
// searches see. Writes only reach the store through flush, and only become
// searchable once flush opened a new reader.
type searchIndex struct {
	db *pebble.DB

	readerMu sync.RWMutex
	reader   *pebble.Snapshot

	// number of readers opened so far
	readerGen atomic.Int64
}

func openSearchIndex() (*searchIndex, error) {
	db, err := pebble.Open("", &pebble.Options{
		FS: vfs.NewMem(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open index")
	}
	idx := &searchIndex{db: db}
	idx.reader = db.NewSnapshot()
	return idx, nil
}

// flush writes every buffered operation in one batch and opens a new reader.
// It returns the sequence number flushed per key; entries written to the
// buffer concurrently may or may not be part of the flush.
func (idx *searchIndex) flush(buffer *xsync.MapOf[string, pendingOp]) (map[string]int64, error) {
	batch := idx.db.NewBatch()
	defer batch.Close()

	flushed := make(map[string]int64)
	var err error
	buffer.Range(func(key string, op pendingOp) bool {
		if op.deleted {
			err = batch.Delete([]byte(key), nil)
		} else {
			err = batch.Set([]byte(key), encodeDoc(op.version, op.seqNo, op.value), nil)
		}
		if err != nil {
			err = errors.Wrapf(err, "stage operation seq %d", op.seqNo)
			return false
		}
		flushed[key] = op.seqNo
		return true
	})
	if err != nil {
		return nil, err
	}

	if !batch.Empty() {
		if err := batch.Commit(pebble.NoSync); err != nil {
			return nil, errors.Wrap(err, "commit batch")
		}
	}
	idx.openReader()
	return flushed, nil
}

// openReader replaces the reader with a snapshot of the committed state
func (idx *searchIndex) openReader() {
	snap := idx.db.NewSnapshot()

	idx.readerMu.Lock()
	prev := idx.reader
	idx.reader = snap
	idx.readerMu.Unlock()

	idx.readerGen.Add(1)
	if prev != nil {
		if err := prev.Close(); err != nil {
			plog.Warningf("failed to close previous reader: %v", err)
		}
	}
}

// search looks key up in the reader, i.e. the state of the last refresh
func (idx *searchIndex) search(key []byte) (Doc, bool, error) {
	idx.readerMu.RLock()
	defer idx.readerMu.RUnlock()
	return get(idx.reader, key)
}

// getCommitted looks key up in everything flushed so far, including a flush
// whose reader is not open yet
func (idx *searchIndex) getCommitted(key []byte) (Doc, bool, error) {
	return get(idx.db, key)
}

func get(r pebbleReader, key []byte) (Doc, bool, error) {
	buf, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, errors.Wrapf(err, "get %q", key)
	}
	defer closer.Close()

	doc, err := decodeDoc(buf)
	if err != nil {
		return Doc{}, false, errors.Wrapf(err, "key %q", key)
	}
	return doc, true, nil
}

// diskBytes returns the space used by the store
func (idx *searchIndex) diskBytes() uint64 {
	return idx.db.Metrics().DiskSpaceUsage()
}

func (idx *searchIndex) close() error {
	idx.readerMu.Lock()
	defer idx.readerMu.Unlock()

	var err error
	if idx.reader != nil {
		err = errors.CombineErrors(err, idx.reader.Close())
		idx.reader = nil
	}
	return errors.CombineErrors(err, idx.db.Close())
}
