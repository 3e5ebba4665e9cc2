package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	m/<id>                 -> levelRecord
//	v/<visible-at>/<id>    -> empty, ordered by visibility time
//	r/<receipt>            -> <id>
var (
	prefixMessage = []byte("m/")
	prefixVisible = []byte("v/")
	prefixReceipt = []byte("r/")
)

type levelRecord struct {
	Body       []byte `json:"body"`
	Deliveries int    `json:"deliveries"`
	Receipt    string `json:"receipt,omitempty"`
	VisibleAt  int64  `json:"visible_at"`
}

// LevelDB is a durable single-host queue. Messages survive restarts;
// leases are wall-clock deadlines stored alongside them.
type LevelDB struct {
	mu     sync.Mutex
	db     *leveldb.DB
	notify chan struct{}
	now    func() time.Time
}

// OpenLevelDB opens or creates the queue at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database %s: %w", path, err)
	}
	return &LevelDB{db: db, notify: make(chan struct{}), now: time.Now}, nil
}

func visibleKey(at int64, id string) []byte {
	// Zero-padded so lexical order is time order.
	return []byte(fmt.Sprintf("v/%020d/%s", at, id))
}

func messageKey(id string) []byte { return append(append([]byte{}, prefixMessage...), id...) }

func receiptKey(r string) []byte { return append(append([]byte{}, prefixReceipt...), r...) }

func parseVisibleKey(k []byte) (int64, string, error) {
	s := string(k[len(prefixVisible):])
	if len(s) < 22 || s[20] != '/' {
		return 0, "", fmt.Errorf("malformed visibility key %q", k)
	}
	at, err := strconv.ParseInt(s[:20], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed visibility key %q: %w", k, err)
	}
	return at, s[21:], nil
}

func (q *LevelDB) Push(_ context.Context, bodies ...[]byte) error {
	if len(bodies) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UnixNano()
	batch := new(leveldb.Batch)
	for _, b := range bodies {
		id := ulid.Make().String()
		rec, err := json.Marshal(levelRecord{Body: b, VisibleAt: now})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		batch.Put(messageKey(id), rec)
		batch.Put(visibleKey(now, id), nil)
	}
	if err := q.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to push messages: %w", err)
	}
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

func (q *LevelDB) Pop(ctx context.Context, max int, lease, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		out, err := q.take(max, lease)
		ch := q.notify
		q.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// take leases visible messages in visibility order. Caller holds mu.
func (q *LevelDB) take(max int, lease time.Duration) ([]Message, error) {
	now := q.now().UnixNano()
	until := q.now().Add(lease).UnixNano()

	it := q.db.NewIterator(util.BytesPrefix(prefixVisible), nil)
	type due struct {
		key []byte
		id  string
	}
	var ready []due
	for it.Next() && len(ready) < max {
		at, id, err := parseVisibleKey(it.Key())
		if err != nil {
			it.Release()
			return nil, err
		}
		if at > now {
			break
		}
		ready = append(ready, due{key: append([]byte{}, it.Key()...), id: id})
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	batch := new(leveldb.Batch)
	out := make([]Message, 0, len(ready))
	for _, d := range ready {
		rec, err := q.record(d.id)
		if err != nil {
			return nil, err
		}
		if rec.Receipt != "" {
			batch.Delete(receiptKey(rec.Receipt))
		}
		rec.Deliveries++
		rec.Receipt = uuid.NewString()
		rec.VisibleAt = until

		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		batch.Delete(d.key)
		batch.Put(visibleKey(until, d.id), nil)
		batch.Put(messageKey(d.id), raw)
		batch.Put(receiptKey(rec.Receipt), []byte(d.id))
		out = append(out, Message{ID: d.id, Body: rec.Body, Receipt: rec.Receipt, Deliveries: rec.Deliveries})
	}
	if batch.Len() == 0 {
		return nil, nil
	}
	if err := q.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("failed to lease messages: %w", err)
	}
	return out, nil
}

func (q *LevelDB) record(id string) (levelRecord, error) {
	var rec levelRecord
	raw, err := q.db.Get(messageKey(id), nil)
	if err != nil {
		return rec, fmt.Errorf("failed to read message %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}
	return rec, nil
}

// leased resolves a receipt to its message. Caller holds mu.
func (q *LevelDB) leased(receipt string) (string, levelRecord, error) {
	id, err := q.db.Get(receiptKey(receipt), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", levelRecord{}, ErrLeaseNotFound
	}
	if err != nil {
		return "", levelRecord{}, fmt.Errorf("failed to read receipt: %w", err)
	}
	rec, err := q.record(string(id))
	if err != nil {
		return "", levelRecord{}, err
	}
	if rec.Receipt != receipt || rec.VisibleAt <= q.now().UnixNano() {
		return "", levelRecord{}, ErrLeaseNotFound
	}
	return string(id), rec, nil
}

func (q *LevelDB) Ack(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, rec, err := q.leased(receipt)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(messageKey(id))
	batch.Delete(visibleKey(rec.VisibleAt, id))
	batch.Delete(receiptKey(receipt))
	if err := q.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (q *LevelDB) Extend(_ context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, rec, err := q.leased(receipt)
	if err != nil {
		return err
	}
	old := rec.VisibleAt
	rec.VisibleAt = q.now().Add(d).UnixNano()
	if d <= 0 {
		rec.Receipt = ""
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(visibleKey(old, id))
	batch.Put(visibleKey(rec.VisibleAt, id), nil)
	batch.Put(messageKey(id), raw)
	if d <= 0 {
		batch.Delete(receiptKey(receipt))
	}
	if err := q.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if d <= 0 {
		close(q.notify)
		q.notify = make(chan struct{})
	}
	return nil
}

func (q *LevelDB) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := new(leveldb.Batch)
	it := q.db.NewIterator(nil, nil)
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("failed to scan queue: %w", err)
	}
	if err := q.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	return nil
}

func (q *LevelDB) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UnixNano()
	var s Stats
	it := q.db.NewIterator(util.BytesPrefix(prefixVisible), nil)
	defer it.Release()
	for it.Next() {
		at, _, err := parseVisibleKey(it.Key())
		if err != nil {
			return Stats{}, err
		}
		if at <= now {
			s.Visible++
		} else {
			s.InFlight++
		}
	}
	if err := it.Error(); err != nil {
		return Stats{}, fmt.Errorf("failed to scan queue: %w", err)
	}
	return s, nil
}

func (q *LevelDB) Close() error {
	return q.db.Close()
}
