// Package store defines the persistence port the budget gateway depends
// on. Two production variants exist: the local SQLite device store (guest
// mode) and the Firestore record store (authenticated mode); the memory
// variant backs tests and local development.
package store

import (
	"context"
	"errors"

	"kharcha/internal/core"
)

// GuestOwner is the owner id under which all guest-mode records live.
const GuestOwner = "guest"

// Device settings keys used in guest mode. Values are plain strings; there
// is no schema versioning.
const (
	KeyGuestMode    = "guest_mode"
	KeyGuestIsSetup = "guest_is_setup"
	KeyGuestIncome  = "guest_income"
)

// GuestModeEnabled is the settings value that selects guest mode.
const GuestModeEnabled = "enabled"

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrExpenseNotFound = errors.New("expense not found")
)

// Store is the single persistence port. All operations are scoped by an
// owner id: a user id in authenticated mode, GuestOwner in guest mode.
type Store interface {
	// GetProfile returns the owner's profile or ErrProfileNotFound.
	GetProfile(ctx context.Context, ownerID string) (core.Profile, error)

	// UpsertProfile creates or fully replaces the owner's profile.
	UpsertProfile(ctx context.Context, ownerID string, p core.Profile) error

	// ListExpenses returns all of the owner's expenses ordered by date
	// ascending; equal dates keep insertion order.
	ListExpenses(ctx context.Context, ownerID string) ([]core.Expense, error)

	// InsertExpense persists a draft and returns the created record with
	// the store-assigned id.
	InsertExpense(ctx context.Context, ownerID string, d core.ExpenseDraft) (core.Expense, error)

	// UpdateExpense fully replaces the mutable fields of the expense with
	// the given id, or returns ErrExpenseNotFound.
	UpdateExpense(ctx context.Context, ownerID, id string, d core.ExpenseDraft) error

	// DeleteExpense removes the expense with the given id, or returns
	// ErrExpenseNotFound.
	DeleteExpense(ctx context.Context, ownerID, id string) error
}

// Settings is the guest-mode device storage: a flat key→string mapping.
type Settings interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores the value for key, replacing any previous one.
	Set(ctx context.Context, key, value string) error
}
