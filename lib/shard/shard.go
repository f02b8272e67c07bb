package shard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rtget/lib/common"
	"github.com/ValentinKolb/rtget/lib/lockmgr"
	"github.com/ValentinKolb/rtget/lib/versionmap"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var plog = logger.GetLogger("shard")

var (
	// ErrClosed is returned by every operation on a closed shard
	ErrClosed = errors.New("shard is closed")
	// ErrEmptyKey is returned for writes and reads with an empty key
	ErrEmptyKey = errors.New("key must not be empty")
)

// primaryTerm is fixed, a shard has no replicas that could take over
const primaryTerm = 1

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Doc is a document as returned by Get and Search
type Doc struct {
	Value   []byte
	Version int64
	SeqNo   int64
}

// IndexOptions configures a single index operation
type IndexOptions struct {
	// AutoGeneratedID marks the key as generated by the caller and therefore
	// new. Such writes may skip version tracking.
	AutoGeneratedID bool
}

// Result describes an applied write
type Result struct {
	Version int64
	SeqNo   int64
}

// pendingOp is the latest not yet flushed operation of a key
type pendingOp struct {
	seqNo   int64
	version int64
	value   []byte
	deleted bool
}

// Options configures the Shard behavior during initialization
type Options struct {
	// Clock returns the current time, it is used for tombstone timestamps
	Clock func() time.Time
	// Knobs are only set by tests
	Knobs TestingKnobs
}

// TestingKnobs contains testing knobs.
type TestingKnobs struct {
	// Called before the buffer is flushed into the index. A non-nil error
	// fails the refresh as if the flush itself had failed.
	BeforeFlush func() error
}

// DefaultOptions returns the default shard options
func DefaultOptions() *Options {
	return &Options{
		Clock: time.Now,
	}
}

// --------------------------------------------------------------------------
// Core Shard structure
// --------------------------------------------------------------------------

// Shard is a single-node storage shard with real-time get. Writes go to an
// indexing buffer and the live version map; a refresh moves the buffer into
// the searchable index.
type Shard struct {
	cfg   common.Config
	clock func() time.Time
	knobs TestingKnobs

	vmap   *versionmap.LiveVersionMap
	locks  lockmgr.ILockManager
	index  *searchIndex
	buffer *xsync.MapOf[string, pendingOp]
	seqNo  atomic.Int64

	// refreshMu serializes refreshes so that BeforeRefresh and AfterRefresh
	// strictly alternate
	refreshMu   sync.Mutex
	refreshCh   chan struct{}
	refreshes   atomic.Int64
	lastRefresh atomic.Int64 // unix millis

	// opMu is held shared by every operation and exclusively by Close
	opMu   sync.RWMutex
	closed atomic.Bool

	stopLoops context.CancelFunc
	loops     *errgroup.Group

	metrics *shardMetrics
}

// New creates a shard and starts its background loops
func New(cfg common.Config, opts *Options) (*Shard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	index, err := openSearchIndex()
	if err != nil {
		return nil, errors.Wrapf(err, "shard %d", cfg.ShardID)
	}

	s := &Shard{
		cfg:       cfg,
		clock:     opts.Clock,
		knobs:     opts.Knobs,
		vmap:      versionmap.New(),
		locks:     lockmgr.NewLockManager(),
		index:     index,
		buffer:    xsync.NewMapOf[string, pendingOp](),
		refreshCh: make(chan struct{}, 1),
	}
	s.metrics = newShardMetrics(s)
	s.startLoops()

	plog.Infof("shard %d opened (refresh every %s, tombstone retention %s)",
		cfg.ShardID, cfg.RefreshInterval, cfg.TombstoneRetention)
	return s, nil
}

func (s *Shard) now() versionmap.Timestamp {
	return versionmap.Timestamp(s.clock().UnixMilli())
}

// VersionMap returns the live version map of the shard
func (s *Shard) VersionMap() *versionmap.LiveVersionMap {
	return s.vmap
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Index writes value for key. A write with an explicit id first enforces safe
// access on the version map and continues the version of the key; a write
// with an auto-generated id always starts at version 1 and may skip tracking.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Index(key, value []byte, opts IndexOptions) (Result, error) {
	if len(key) == 0 {
		return Result{}, ErrEmptyKey
	}
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return Result{}, ErrClosed
	}

	release := s.locks.Acquire(key)
	defer release()

	version := int64(1)
	if !opts.AutoGeneratedID {
		s.vmap.EnforceSafeAccess()
		prev, err := s.currentVersion(key)
		if err != nil {
			return Result{}, err
		}
		version = prev + 1
	}
	seqNo := s.seqNo.Add(1)

	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	// the buffer is written before the version map, a refresh that misses
	// the buffer entry can then only have started after the map write
	s.buffer.Store(string(key), pendingOp{seqNo: seqNo, version: version, value: valueCopy})

	meta := versionmap.VersionMetadata{Version: version, SeqNo: seqNo, PrimaryTerm: primaryTerm}
	entry := versionmap.NewLive(meta, &versionmap.Location{
		Generation: s.index.readerGen.Load(),
		Offset:     seqNo,
		Size:       int32(len(value)),
	})
	if opts.AutoGeneratedID {
		s.vmap.MaybePut(key, entry)
	} else {
		s.vmap.Put(key, entry)
	}

	s.metrics.indexOps.Inc()
	s.metrics.valueSizes.Update(int64(len(value)))
	s.maybeTriggerRefresh()
	return Result{Version: version, SeqNo: seqNo}, nil
}

// Delete deletes key. Deleting a key that was never written still records a
// tombstone (version 1).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Delete(key []byte) (Result, error) {
	if len(key) == 0 {
		return Result{}, ErrEmptyKey
	}
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return Result{}, ErrClosed
	}

	release := s.locks.Acquire(key)
	defer release()

	s.vmap.EnforceSafeAccess()
	prev, err := s.currentVersion(key)
	if err != nil {
		return Result{}, err
	}
	version := prev + 1
	seqNo := s.seqNo.Add(1)

	s.buffer.Store(string(key), pendingOp{seqNo: seqNo, version: version, deleted: true})
	meta := versionmap.VersionMetadata{Version: version, SeqNo: seqNo, PrimaryTerm: primaryTerm}
	s.vmap.Put(key, versionmap.NewTombstone(meta, s.now()))

	s.metrics.deleteOps.Inc()
	s.maybeTriggerRefresh()
	return Result{Version: version, SeqNo: seqNo}, nil
}

// currentVersion returns the version of the latest write of key or 0.
// The caller holds the lock for key.
func (s *Shard) currentVersion(key []byte) (int64, error) {
	if e, ok := s.vmap.Get(key); ok {
		return e.Meta.Version, nil
	}
	if op, ok := s.buffer.Load(string(key)); ok {
		return op.version, nil
	}
	doc, found, err := s.index.getCommitted(key)
	if err != nil || !found {
		return 0, err
	}
	return doc.Version, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the latest state of key, including writes that are not yet
// searchable. It returns found=false for deleted or unknown keys.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Get(key []byte) (Doc, bool, error) {
	if len(key) == 0 {
		return Doc{}, false, ErrEmptyKey
	}
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return Doc{}, false, ErrClosed
	}
	s.metrics.getOps.Inc()

	if e, ok := s.vmap.Get(key); ok {
		if op, ok := s.buffer.Load(string(key)); ok && op.seqNo >= e.Meta.SeqNo {
			if op.deleted {
				return Doc{}, false, nil
			}
			// the buffered value is flushed later and must not be handed out
			value := make([]byte, len(op.value))
			copy(value, op.value)
			return Doc{Value: value, Version: op.version, SeqNo: op.seqNo}, true, nil
		}
		if e.IsTombstone() {
			return Doc{}, false, nil
		}
		// flushed but possibly not searchable yet
		return s.index.getCommitted(key)
	}

	if s.vmap.IsUnsafe() {
		// untracked writes may still sit in the buffer
		s.metrics.getFallbacks.Inc()
		if err := s.refresh(context.Background()); err != nil {
			return Doc{}, false, errors.Wrap(err, "refresh for real-time get")
		}
	}
	return s.index.search(key)
}

// Search returns key as seen by the searchable index, i.e. as of the last
// refresh.
func (s *Shard) Search(key []byte) (Doc, bool, error) {
	if len(key) == 0 {
		return Doc{}, false, ErrEmptyKey
	}
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return Doc{}, false, ErrClosed
	}
	s.metrics.searchOps.Inc()
	return s.index.search(key)
}

// --------------------------------------------------------------------------
// Refresh and pruning
// --------------------------------------------------------------------------

// Refresh makes every write so far searchable and releases the version map
// entries that are then covered by the index.
func (s *Shard) Refresh(ctx context.Context) error {
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	return s.refresh(ctx)
}

func (s *Shard) refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	freed := s.vmap.RAMBytesUsedForRefresh()

	s.vmap.BeforeRefresh()
	flushed, err := s.flush()
	if err != nil {
		// Entries in old are dropped below although the index lacks them,
		// marking the new current map unsafe makes gets refresh again.
		s.vmap.Generation().Current().MarkUnsafe()
		s.vmap.AfterRefresh(false)
		s.metrics.refreshFailures.Inc()
		return errors.Wrapf(err, "shard %d: refresh", s.cfg.ShardID)
	}

	// drop flushed operations unless they were overwritten meanwhile
	for key, seqNo := range flushed {
		s.buffer.Compute(key, func(op pendingOp, loaded bool) (pendingOp, bool) {
			return op, !loaded || op.seqNo == seqNo
		})
	}
	s.vmap.AfterRefresh(true)

	s.refreshes.Add(1)
	s.lastRefresh.Store(time.Now().UnixMilli())
	s.metrics.refreshTimer.UpdateSince(start)
	plog.Debugf("shard %d: refreshed %d ops in %s, %d version map bytes released",
		s.cfg.ShardID, len(flushed), time.Since(start), freed)
	return nil
}

func (s *Shard) flush() (map[string]int64, error) {
	if fn := s.knobs.BeforeFlush; fn != nil {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return s.index.flush(s.buffer)
}

// PruneTombstones removes tombstones older than the configured retention
// that are visible in the index. Tombstones of keys that are being written
// are skipped until the next pass. It returns the number of pruned tombstones.
func (s *Shard) PruneTombstones() (int, error) {
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	pruned := s.vmap.PruneTombstones(s.tryLock, s.now(), s.cfg.TombstoneRetention)
	s.metrics.pruneTimer.UpdateSince(start)
	s.metrics.prunedTombstones.Add(pruned)
	return pruned, nil
}

// tryLock adapts the lock manager to versionmap.LockFunc
func (s *Shard) tryLock(key []byte) (func(), bool) {
	return s.locks.TryAcquire(key)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close stops the background loops, clears the version map and closes the
// index. Operations after Close return ErrClosed.
func (s *Shard) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.stopLoops()
	loopErr := s.loops.Wait()

	// wait for in-flight operations
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.vmap.Clear()
	s.buffer.Clear()
	err := errors.CombineErrors(loopErr, s.index.close())
	if err != nil {
		return errors.Wrapf(err, "close shard %d", s.cfg.ShardID)
	}
	plog.Infof("shard %d closed", s.cfg.ShardID)
	return nil
}
