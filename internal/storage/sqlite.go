package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "iranfinance/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// maxInArgs keeps IN (...) lists well below SQLite's variable limit.
const maxInArgs = 500

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Upsert(ctx context.Context, name string, value float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(name, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		name, value, at.Unix(),
	)
	return err
}

func (s *sqliteStore) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM items ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, names []string) (map[string]Item, error) {
	out := make(map[string]Item, len(names))
	for start := 0; start < len(names); start += maxInArgs {
		chunk := names[start:min(start+maxInArgs, len(names))]
		args := make([]any, len(chunk))
		for i, n := range chunk {
			args[i] = n
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT name, value, updated_at FROM items WHERE name IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				it Item
				ts int64
			)
			if err := rows.Scan(&it.Name, &it.Value, &ts); err != nil {
				rows.Close()
				return nil, err
			}
			it.UpdatedAt = time.Unix(ts, 0)
			out[it.Name] = it
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EnsureSubscriber registers id on first contact and refreshes the display
// name afterwards. The message pointer is left alone.
func (s *sqliteStore) EnsureSubscriber(ctx context.Context, id int64, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, display_name, created_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name=COALESCE(excluded.display_name, subscribers.display_name)`,
		id, nullStr(displayName), time.Now().Unix(),
	)
	return err
}

func (s *sqliteStore) Subscriber(ctx context.Context, id int64) (Subscriber, error) {
	var (
		sub  Subscriber
		name sql.NullString
		ptr  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, last_message_id FROM subscribers WHERE id = ?`, id,
	).Scan(&sub.ID, &name, &ptr)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, err
	}
	sub.DisplayName = name.String
	sub.LastMessageID = int(ptr.Int64)
	return sub, nil
}

func (s *sqliteStore) Subscriptions(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_name FROM subscriptions WHERE subscriber_id = ? ORDER BY item_name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ReplaceSubscriptions swaps the whole subscription set of id in a single
// transaction. On any error the previous set is left untouched.
func (s *sqliteStore) ReplaceSubscriptions(ctx context.Context, id int64, names []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber_id = ?`, id); err != nil {
		return err
	}
	uniq := append([]string(nil), names...)
	sort.Strings(uniq)
	uniq = slices.Compact(uniq)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO subscriptions(subscriber_id, item_name) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, n := range uniq {
		if _, err = stmt.ExecContext(ctx, id, n); err != nil {
			return fmt.Errorf("insert %q: %w", n, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.display_name, s.last_message_id
		   FROM subscribers s
		   JOIN subscriptions p ON p.subscriber_id = s.id
		  GROUP BY s.id
		  ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var (
			sub  Subscriber
			name sql.NullString
			ptr  sql.NullInt64
		)
		if err := rows.Scan(&sub.ID, &name, &ptr); err != nil {
			return nil, err
		}
		sub.DisplayName = name.String
		sub.LastMessageID = int(ptr.Int64)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetPointer records the message the next digest should edit. A messageID of
// 0 clears it.
func (s *sqliteStore) SetPointer(ctx context.Context, id int64, messageID int) error {
	var v any
	if messageID != 0 {
		v = messageID
	}
	res, err := s.db.ExecContext(ctx, `UPDATE subscribers SET last_message_id = ? WHERE id = ?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM items),
		        (SELECT COUNT(*) FROM subscribers),
		        (SELECT COUNT(DISTINCT subscriber_id) FROM subscriptions)`,
	).Scan(&st.Items, &st.Subscribers, &st.Active)
	return st, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
