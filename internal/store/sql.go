package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"orderhub/internal/model"
)

// SQL keeps one row per restaurant in order_sync_state. It runs on postgres
// (driver "pgx") or sqlite (driver "sqlite"); queries are written with ?
// placeholders and rebound for the driver.
type SQL struct {
	db     *sqlx.DB
	driver string
}

func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s := &SQL{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *SQL) migrate(ctx context.Context) error {
	jsonType, tsType := "TEXT", "TEXT"
	if s.driver == "pgx" {
		jsonType, tsType = "JSONB", "TIMESTAMPTZ"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS order_sync_state (
	restaurant_id TEXT PRIMARY KEY,
	state         %s NOT NULL,
	updated_at    %s NOT NULL
)`, jsonType, tsType))
	return err
}

func (s *SQL) Get(ctx context.Context, restaurantID string) (map[string]model.OrderSyncState, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, s.db.Rebind(`SELECT state FROM order_sync_state WHERE restaurant_id = ?`), restaurantID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]model.OrderSyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", restaurantID, err)
	}
	return decodeState(data)
}

func (s *SQL) Put(ctx context.Context, restaurantID string, orders map[string]model.OrderSyncState) error {
	data, err := encodeState(orders)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO order_sync_state (restaurant_id, state, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (restaurant_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`),
		restaurantID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save state %s: %w", restaurantID, err)
	}
	return nil
}

// Restaurants lists every restaurant with stored state.
func (s *SQL) Restaurants(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT restaurant_id FROM order_sync_state ORDER BY restaurant_id`); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }
