package blurb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// Record is one generated caption.
type Record struct {
	Id         int       `json:"id"`
	RequestId  string    `json:"request_id"`
	Filename   string    `json:"filename"`
	Mode       string    `json:"mode"`
	Caption    string    `json:"caption"`
	Captioner  string    `json:"captioner"`
	Model      string    `json:"model"`
	Cached     bool      `json:"cached"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if fname == ":memory:" {
		// Each connection to :memory: is a separate database.
		sqldb.SetMaxOpenConns(1)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

// InsertCaption stores rec. A RequestId is generated when rec has none and
// rec.Id is set to the new row's id.
func (db *DB) InsertCaption(ctx context.Context, rec *Record) error {
	if rec.RequestId == "" {
		rec.RequestId = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := db.db.ExecContext(ctx, `
		INSERT INTO captions
		(request_id, filename, mode, caption, captioner, model, cached, duration_ms, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		`,
		rec.RequestId, rec.Filename, rec.Mode, rec.Caption, rec.Captioner, rec.Model,
		rec.Cached, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert caption: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.Id = int(id)
	return nil
}

// RecentCaptions returns up to limit captions, newest first.
func (db *DB) RecentCaptions(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, request_id, filename, mode, caption, captioner, model,
			   cached, duration_ms, created_at
		FROM captions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec := &Record{}
		err := rows.Scan(
			&rec.Id,
			&rec.RequestId,
			&rec.Filename,
			&rec.Mode,
			&rec.Caption,
			&rec.Captioner,
			&rec.Model,
			&rec.Cached,
			&rec.DurationMS,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning captions: %w", err)
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating captions: %w", err)
	}

	return recs, nil
}

// CountCaptions returns the number of captions in the DB
func (db *DB) CountCaptions(ctx context.Context) (int, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM captions`)
	if row.Err() != nil {
		return 0, row.Err()
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}
