package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// MemoryLedger is a goroutine-safe Ledger backed by a map. It is not durable
// and is meant for tests and local runs.
type MemoryLedger struct {
	mu     sync.Mutex
	rows   map[int64]*api.Instance
	nextID int64
	opts   options
}

// Ensure MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger(opts ...Option) *MemoryLedger {
	return &MemoryLedger{
		rows: make(map[int64]*api.Instance),
		opts: buildOptions(opts),
	}
}

func (l *MemoryLedger) Insert(ctx context.Context, inst *api.Instance) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.insertLocked(inst)
}

func (l *MemoryLedger) InsertTrigger(ctx context.Context, inst *api.Instance, since time.Time) (*api.Instance, *api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.mostRecentClaimedLocked(since)
	created, err := l.insertLocked(inst)
	if err != nil {
		return nil, nil, err
	}
	return created, last, nil
}

func (l *MemoryLedger) Get(ctx context.Context, id int64) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", api.ErrNotFound, id)
	}
	return l.out(row), nil
}

func (l *MemoryLedger) FindByCorrelationID(ctx context.Context, correlationID string) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.byCorrelationLocked(correlationID)
	if row == nil {
		return nil, fmt.Errorf("%w: correlation id %q", api.ErrNotFound, correlationID)
	}
	return l.out(row), nil
}

func (l *MemoryLedger) UpdateByID(ctx context.Context, id int64, fn MutateFunc) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", api.ErrNotFound, id)
	}
	return l.updateLocked(row, fn)
}

func (l *MemoryLedger) UpdateByCorrelationID(ctx context.Context, correlationID string, fn MutateFunc) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.byCorrelationLocked(correlationID)
	if row == nil {
		return nil, fmt.Errorf("%w: correlation id %q", api.ErrNotFound, correlationID)
	}
	return l.updateLocked(row, fn)
}

func (l *MemoryLedger) MostRecentClaimedSince(ctx context.Context, since time.Time) (*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.mostRecentClaimedLocked(since)
	if row == nil {
		return nil, fmt.Errorf("%w: no claimed instance since %s", api.ErrNotFound, since.Format(time.RFC3339))
	}
	return row, nil
}

func (l *MemoryLedger) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*api.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []*api.Instance
	for _, row := range l.rows {
		if row.CreatedAt.Before(from) || !row.CreatedAt.Before(to) {
			continue
		}
		result = append(result, l.out(row))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (l *MemoryLedger) insertLocked(inst *api.Instance) (*api.Instance, error) {
	row, err := prepareWrite(inst)
	if err != nil {
		return nil, err
	}
	if err := l.checkCorrelationLocked(row); err != nil {
		return nil, err
	}
	l.nextID++
	row.ID = l.nextID
	l.rows[row.ID] = row
	return l.out(row), nil
}

func (l *MemoryLedger) updateLocked(cur *api.Instance, fn MutateFunc) (*api.Instance, error) {
	next, err := applyMutation(cur, fn)
	if err != nil {
		return nil, err
	}
	if next.CorrelationID != cur.CorrelationID {
		if err := l.checkCorrelationLocked(next); err != nil {
			return nil, err
		}
	}
	l.rows[next.ID] = next
	return l.out(next), nil
}

func (l *MemoryLedger) checkCorrelationLocked(row *api.Instance) error {
	if row.CorrelationID == "" {
		return nil
	}
	day := api.DayOf(row.CreatedAt, l.opts.loc)
	for _, other := range l.rows {
		if other.ID != row.ID && other.CorrelationID == row.CorrelationID && day.Contains(other.CreatedAt) {
			return fmt.Errorf("%w: %q", api.ErrDuplicateCorrelation, row.CorrelationID)
		}
	}
	return nil
}

func (l *MemoryLedger) byCorrelationLocked(correlationID string) *api.Instance {
	var found *api.Instance
	for _, row := range l.rows {
		if row.CorrelationID == correlationID && correlationID != "" {
			if found == nil || row.ID > found.ID {
				found = row
			}
		}
	}
	return found
}

func (l *MemoryLedger) mostRecentClaimedLocked(since time.Time) *api.Instance {
	var found *api.Instance
	for _, row := range l.rows {
		if row.HandledBy == "" || row.CreatedAt.Before(since) {
			continue
		}
		if found == nil || row.ID > found.ID {
			found = row
		}
	}
	return l.out(found)
}

func (l *MemoryLedger) out(row *api.Instance) *api.Instance {
	c := row.Clone()
	if c != nil {
		c.CreatedAt = c.CreatedAt.In(l.opts.loc)
	}
	return c
}
