package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/oxbowlabs/steward/internal/storage/pebble"
	"github.com/oxbowlabs/steward/internal/work"
)

// Journal is an append-only log of item state transitions backed by Pebble.
// The tracker stays the durable source of truth for open work; the journal
// preserves history across restarts for escalation reports and startup
// accounting.
type Journal struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq uint64
}

// Open initializes a Journal and restores lastSeq from metadata if present.
func Open(db *pebblestore.DB) (*Journal, error) {
	j := &Journal{db: db}
	if meta, err := db.Get(MetaKey()); err == nil && len(meta) >= 8 {
		j.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	return j, nil
}

// Append writes one transition record atomically with the sequence metadata.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	val, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	b := j.db.NewBatch()
	defer b.Close()

	j.lastSeq++
	if err := b.Set(ItemKey(rec.ItemID, j.lastSeq), val, nil); err != nil {
		return err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], j.lastSeq)
	if err := b.Set(MetaKey(), meta[:], nil); err != nil {
		return err
	}
	return j.db.CommitBatch(ctx, b)
}

// History returns every recorded transition for an item in append order.
func (j *Journal) History(itemID string) ([]Record, error) {
	prefix := ItemPrefix(itemID)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: UpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for ok := iter.First(); ok; ok = iter.Next() {
		rec, valid := DecodeRecord(iter.Value())
		if !valid {
			continue
		}
		// Ids may contain the key separator ("org/repo"), so the prefix
		// scan can pick up another item's records.
		if rec.ItemID != itemID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Replay streams every record in the journal. Iteration order is per-item
// append order; items are visited in id order.
func (j *Journal) Replay(fn func(Record) error) error {
	prefix := AllPrefix()
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: UpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		rec, valid := DecodeRecord(iter.Value())
		if !valid {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// TerminalCounts tallies, per terminal state, how many items ended there
// according to the journal. Used for startup accounting after a restart.
func (j *Journal) TerminalCounts() (map[work.State]int, error) {
	final := make(map[string]work.State)
	err := j.Replay(func(rec Record) error {
		final[rec.ItemID] = rec.To
		return nil
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[work.State]int)
	for _, state := range final {
		if state.Terminal() {
			counts[state]++
		}
	}
	return counts, nil
}
