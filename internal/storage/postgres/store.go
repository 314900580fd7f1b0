package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangeOrder/internal/model"
	"rangeOrder/internal/storage"
)

// Store provides Postgres persistence for the order engine's state views and
// event journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertEvents appends journal records. Duplicate sequence numbers are
// ignored so a resumed replay can safely re-emit its last batch.
func (s *Store) InsertEvents(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO order_events (seq, event_type, payload, emitted_at, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (seq) DO NOTHING
		`,
			int64(rec.Seq),
			rec.Type,
			[]byte(rec.Payload),
			rec.EmittedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertOrders inserts or updates order state snapshots.
func (s *Store) UpsertOrders(ctx context.Context, orders []model.OrderSnapshot) error {
	if len(orders) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range orders {
		batch.Queue(`
			INSERT INTO orders (
				order_id, pool_id, tick_lower, zero_for_one, filled,
				currency0, currency1, total_fee0, total_fee1, liquidity_total,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
			ON CONFLICT (order_id)
			DO UPDATE SET
				filled = EXCLUDED.filled,
				total_fee0 = EXCLUDED.total_fee0,
				total_fee1 = EXCLUDED.total_fee1,
				liquidity_total = EXCLUDED.liquidity_total,
				updated_at = now()
		`,
			int64(o.OrderID),
			o.PoolID,
			o.TickLower,
			o.ZeroForOne,
			o.Filled,
			o.Currency0,
			o.Currency1,
			o.TotalFee0,
			o.TotalFee1,
			o.LiquidityTotal,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range orders {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTickCursors inserts or updates per-pool tick cursors.
func (s *Store) UpsertTickCursors(ctx context.Context, cursors []model.TickCursor) error {
	if len(cursors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range cursors {
		batch.Queue(`
			INSERT INTO tick_cursors (pool_id, tick_lower_last, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (pool_id)
			DO UPDATE SET tick_lower_last = EXCLUDED.tick_lower_last, updated_at = now()
		`,
			c.PoolID,
			c.TickLowerLast,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range cursors {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed operation index for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var idx uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_op FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&idx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return idx, true, nil
}

// SaveState upserts the last processed operation index for a name.
func (s *Store) SaveState(ctx context.Context, name string, idx uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_processed_op, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_op = EXCLUDED.last_processed_op, updated_at = now()
	`, name, idx)
	return err
}

// Sink adapts the store to the engine's event sink interface, binding a
// context for the journal writes.
func (s *Store) Sink(ctx context.Context) storage.EventSink {
	return &sink{store: s, ctx: ctx}
}

type sink struct {
	store *Store
	ctx   context.Context
}

func (s *sink) PutEventBatch(records []model.EventRecord) error {
	return s.store.InsertEvents(s.ctx, records)
}
