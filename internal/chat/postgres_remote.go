package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

const (
	postgresNotifyChannel    = "chat_changes"
	postgresOperationTimeout = 5 * time.Second
)

var postgresTables = map[string][]string{
	"messages":            {"sender_id", "receiver_id", "content", "replied_id", "is_read"},
	"profiles":            {"id", "name", "phone"},
	"chat_labels":         {"user_id", "chat_partner_id", "label_name"},
	"chat_label_separate": {"id", "label_name", "color"},
}

// PostgresRemote implements the remote data service directly against a
// Postgres database. Change events ride LISTEN/NOTIFY: every write issues
// a pg_notify in the same transaction, so a client's own writes always
// echo back on its subscription.
type PostgresRemote struct {
	dsn    string
	openDB func(driverName, dsn string) (*sql.DB, error)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRemote(dsn string) (*PostgresRemote, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRemote{dsn: dsn, openDB: sql.Open}, nil
}

func (r *PostgresRemote) ensureReady() error {
	if r == nil {
		return ErrInvalidInput
	}
	r.initOnce.Do(func() {
		db, err := r.openDB("postgres", r.dsn)
		if err != nil {
			r.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		schema := []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				sender_id TEXT NOT NULL,
				receiver_id TEXT NOT NULL,
				content TEXT NOT NULL,
				replied_id TEXT,
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS profiles (
				id TEXT PRIMARY KEY,
				name TEXT,
				phone TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS chat_labels (
				user_id TEXT NOT NULL,
				chat_partner_id TEXT NOT NULL,
				label_name TEXT[] NOT NULL DEFAULT '{}',
				PRIMARY KEY (user_id, chat_partner_id)
			)`,
			`CREATE TABLE IF NOT EXISTS chat_label_separate (
				id TEXT PRIMARY KEY,
				label_name TEXT NOT NULL,
				color TEXT NOT NULL
			)`,
		}
		for _, stmt := range schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				r.initErr = err
				return
			}
		}
		r.db = db
	})
	return r.initErr
}

func (r *PostgresRemote) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	if err := r.ensureReady(); err != nil {
		return nil, err
	}
	if _, ok := postgresTables[table]; !ok {
		return nil, fmt.Errorf("%w: unknown table %s", ErrInvalidInput, table)
	}
	where, args := buildWhereClause(filter)
	query := fmt.Sprintf("SELECT row_to_json(t) FROM %s t%s", quoteIdentifier(table), where)
	if table == "messages" {
		query += " ORDER BY created_at ASC, id ASC"
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var row Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresRemote) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := r.ensureReady(); err != nil {
		return nil, err
	}
	columns, ok := postgresTables[table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %s", ErrInvalidInput, table)
	}
	cols, placeholders, args := buildInsertValues(columns, row)
	if len(cols) == 0 {
		return nil, ErrInvalidInput
	}
	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t)",
		quoteIdentifier(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	return r.writeAndNotify(ctx, table, EventInsert, query, args)
}

func (r *PostgresRemote) Upsert(ctx context.Context, table string, row Row, conflictKey string) error {
	if err := r.ensureReady(); err != nil {
		return err
	}
	columns, ok := postgresTables[table]
	if !ok {
		return fmt.Errorf("%w: unknown table %s", ErrInvalidInput, table)
	}
	cols, placeholders, args := buildInsertValues(columns, row)
	if len(cols) == 0 {
		return ErrInvalidInput
	}
	conflictCols := splitConflictKey(conflictKey)
	if len(conflictCols) == 0 {
		return ErrInvalidInput
	}
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if containsString(conflictCols, strings.Trim(col, `"`)) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING row_to_json(t)",
		quoteIdentifier(table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(quoteAll(conflictCols), ", "),
		strings.Join(updates, ", "),
	)
	_, err := r.writeAndNotify(ctx, table, EventUpdate, query, args)
	return err
}

func (r *PostgresRemote) writeAndNotify(ctx context.Context, table string, kind EventKind, query string, args []any) (Row, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var payload []byte
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, err
	}
	event, err := json.Marshal(ChangeEvent{Kind: kind, Table: table, Row: row})
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", postgresNotifyChannel, string(event)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return row, nil
}

type postgresSubscription struct {
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (s *postgresSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.listener.Close()
		<-s.done
	})
	return err
}

func (r *PostgresRemote) Subscribe(ctx context.Context, table string, filter Filter, onEvent func(ChangeEvent)) (Subscription, error) {
	if r == nil || table == "" || onEvent == nil {
		return nil, ErrInvalidInput
	}
	if err := r.ensureReady(); err != nil {
		return nil, err
	}
	listener := pq.NewListener(r.dsn, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(postgresNotifyChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &postgresSubscription{listener: listener, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-subCtx.Done():
				return
			case notification, ok := <-listener.Notify:
				if !ok {
					return
				}
				if notification == nil {
					continue
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
					logger.Warn("undecodable notification dropped", "channel", postgresNotifyChannel, "err", err)
					continue
				}
				if event.Table != table {
					continue
				}
				if len(filter) > 0 && !filter.Matches(event.Row) {
					continue
				}
				onEvent(event)
			}
		}
	}()
	return sub, nil
}

func (r *PostgresRemote) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func buildWhereClause(filter Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, field := range fields {
		value := filter[field]
		if list, ok := value.([]any); ok {
			items := make([]string, 0, len(list))
			for _, item := range list {
				items = append(items, toString(item))
			}
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", quoteIdentifier(field), i+1))
			args = append(args, pq.Array(items))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", quoteIdentifier(field), i+1))
		args = append(args, value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildInsertValues(allowed []string, row Row) ([]string, []string, []any) {
	fields := make([]string, 0, len(row))
	for field := range row {
		if containsString(allowed, field) {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	cols := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, field := range fields {
		cols = append(cols, quoteIdentifier(field))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		value := row[field]
		if list, ok := value.([]any); ok {
			items := make([]string, 0, len(list))
			for _, item := range list {
				items = append(items, toString(item))
			}
			args = append(args, pq.Array(items))
			continue
		}
		args = append(args, value)
	}
	return cols, placeholders, args
}

func splitConflictKey(conflictKey string) []string {
	parts := strings.Split(conflictKey, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func quoteAll(identifiers []string) []string {
	out := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		out = append(out, quoteIdentifier(identifier))
	}
	return out
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
