// Package local is the guest-mode device store: SQLite holding a flat
// settings table (the guest profile and mode flag) plus the guest expense
// records.
package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"kharcha/internal/core"
	"kharcha/internal/store"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetProfile assembles the guest profile from the settings keys. Absent
// keys mean the profile was never written.
func (s *Store) GetProfile(ctx context.Context, _ string) (core.Profile, error) {
	incomeStr, hasIncome, err := s.Get(ctx, store.KeyGuestIncome)
	if err != nil {
		return core.Profile{}, err
	}
	setupStr, hasSetup, err := s.Get(ctx, store.KeyGuestIsSetup)
	if err != nil {
		return core.Profile{}, err
	}
	if !hasIncome && !hasSetup {
		return core.Profile{}, store.ErrProfileNotFound
	}

	p := core.Profile{Income: decimal.Zero, IsSetup: setupStr == "true"}
	if hasIncome {
		v, err := decimal.NewFromString(incomeStr)
		if err != nil {
			return core.Profile{}, fmt.Errorf("parse stored income %q: %w", incomeStr, err)
		}
		p.Income = v
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, _ string, p core.Profile) error {
	if err := s.Set(ctx, store.KeyGuestIncome, p.Income.String()); err != nil {
		return err
	}
	return s.Set(ctx, store.KeyGuestIsSetup, strconv.FormatBool(p.IsSetup))
}

func (s *Store) ListExpenses(ctx context.Context, ownerID string) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, amount, date, note
		 FROM expenses WHERE owner_id = ?
		 ORDER BY date ASC, rowid ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		var e core.Expense
		var amount string
		if err := rows.Scan(&e.ID, &e.Category, &amount, &e.Date, &e.Note); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (s *Store) InsertExpense(ctx context.Context, ownerID string, d core.ExpenseDraft) (core.Expense, error) {
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	id := newExpenseID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expenses (id, owner_id, category, amount, date, note)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, d.Category, d.Amount.String(), d.Date, d.Note)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	return d.Expense(id), nil
}

func (s *Store) UpdateExpense(ctx context.Context, ownerID, id string, d core.ExpenseDraft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET category = ?, amount = ?, date = ?, note = ?
		 WHERE id = ? AND owner_id = ?`,
		d.Category, d.Amount.String(), d.Date, d.Note, id, ownerID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Store) DeleteExpense(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return affectedOrNotFound(res)
}

// Get implements store.Settings.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements store.Settings.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrExpenseNotFound
	}
	return nil
}

// newExpenseID builds a locally-unique id: epoch millis plus a short random
// suffix so same-millisecond inserts cannot collide.
func newExpenseID() string {
	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + hex.EncodeToString(suffix)
}
