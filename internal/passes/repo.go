package passes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the record store behind the pass service.
type Repository interface {
	List(ctx context.Context) ([]EntryPass, error)
	Get(ctx context.Context, passID string) (EntryPass, error)
	GetByRollNo(ctx context.Context, rollNo string) (EntryPass, error)
	Insert(ctx context.Context, p EntryPass) error
	Update(ctx context.Context, p EntryPass) (EntryPass, error)
	Delete(ctx context.Context, passID string) error
	MarkAttended(ctx context.Context, passID string) (EntryPass, error)
}

// SQLRepository persists passes in Postgres or SQLite.
type SQLRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

var schema = []string{`
	CREATE TABLE IF NOT EXISTS entry_passes (
		pass_id  TEXT PRIMARY KEY,
		name     VARCHAR(100) NOT NULL,
		roll_no  VARCHAR(10) NOT NULL,
		attended BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entry_passes_roll_no ON entry_passes (roll_no)`,
}

// EnsureSchema creates the table when it is missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const selectColumns = `SELECT pass_id, name, roll_no, attended FROM entry_passes`

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(s scanner) (EntryPass, error) {
	var p EntryPass
	if err := s.Scan(&p.PassID, &p.Name, &p.RollNo, &p.Attended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntryPass{}, ErrNotFound
		}
		return EntryPass{}, err
	}
	return p, nil
}

// List returns every pass ordered by pass_id.
func (r *SQLRepository) List(ctx context.Context) ([]EntryPass, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY pass_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []EntryPass{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Get returns a single pass by primary key.
func (r *SQLRepository) Get(ctx context.Context, passID string) (EntryPass, error) {
	return scanPass(r.db.QueryRowContext(ctx, selectColumns+` WHERE pass_id = $1`, passID))
}

// GetByRollNo returns the pass with the lowest pass_id among those sharing rollNo.
func (r *SQLRepository) GetByRollNo(ctx context.Context, rollNo string) (EntryPass, error) {
	return scanPass(r.db.QueryRowContext(ctx, selectColumns+` WHERE roll_no = $1 ORDER BY pass_id LIMIT 1`, rollNo))
}

// Insert writes a new pass.
func (r *SQLRepository) Insert(ctx context.Context, p EntryPass) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO entry_passes (pass_id, name, roll_no, attended)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pass_id) DO NOTHING
	`, p.PassID, p.Name, p.RollNo, p.Attended)
	if err != nil {
		return err
	}
	return expectOne(res, ErrAlreadyExists)
}

// Update replaces name and roll_no of an existing pass and returns the stored row.
// attended is left alone so a concurrent mark-attendance is never undone.
func (r *SQLRepository) Update(ctx context.Context, p EntryPass) (EntryPass, error) {
	return scanPass(r.db.QueryRowContext(ctx, `
		UPDATE entry_passes
		SET name = $1, roll_no = $2
		WHERE pass_id = $3
		RETURNING pass_id, name, roll_no, attended
	`, p.Name, p.RollNo, p.PassID))
}

// Delete removes a pass.
func (r *SQLRepository) Delete(ctx context.Context, passID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entry_passes WHERE pass_id = $1`, passID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

// MarkAttended sets attended and returns the stored row.
func (r *SQLRepository) MarkAttended(ctx context.Context, passID string) (EntryPass, error) {
	return scanPass(r.db.QueryRowContext(ctx, `
		UPDATE entry_passes SET attended = TRUE
		WHERE pass_id = $1
		RETURNING pass_id, name, roll_no, attended
	`, passID))
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
