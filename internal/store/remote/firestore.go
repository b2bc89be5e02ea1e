// Package remote is the authenticated-mode store: Firestore collections
// keyed by the signed-in user's id. Profiles live in "profiles" (one doc
// per user, upserted wholesale); expenses live in "expenses" with
// store-assigned uuid ids.
package remote

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"kharcha/internal/core"
	"kharcha/internal/store"
)

const (
	profilesCollection = "profiles"
	expensesCollection = "expenses"
)

type Store struct {
	client *firestore.Client
}

// New connects to Firestore. With an empty credentialsFile the client falls
// back to application default credentials.
func New(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Amounts are stored as decimal strings: Firestore numbers are float64 and
// would reintroduce the precision loss the domain type exists to avoid.
type (
	profileDoc struct {
		Income  string `firestore:"income"`
		IsSetup bool   `firestore:"is_setup"`
	}

	expenseDoc struct {
		UserID   string `firestore:"user_id"`
		Category string `firestore:"category"`
		Amount   string `firestore:"amount"`
		Date     string `firestore:"date"`
		Note     string `firestore:"note"`
	}
)

func (s *Store) GetProfile(ctx context.Context, ownerID string) (core.Profile, error) {
	snap, err := s.client.Collection(profilesCollection).Doc(ownerID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return core.Profile{}, store.ErrProfileNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return core.Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	income, err := decimal.NewFromString(doc.Income)
	if err != nil {
		return core.Profile{}, fmt.Errorf("parse stored income %q: %w", doc.Income, err)
	}
	return core.Profile{Income: income, IsSetup: doc.IsSetup}, nil
}

func (s *Store) UpsertProfile(ctx context.Context, ownerID string, p core.Profile) error {
	_, err := s.client.Collection(profilesCollection).Doc(ownerID).Set(ctx, profileDoc{
		Income:  p.Income.String(),
		IsSetup: p.IsSetup,
	})
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ListExpenses returns the user's expenses date-ascending. The document-id
// tiebreak keeps the order stable for equal dates.
func (s *Store) ListExpenses(ctx context.Context, ownerID string) ([]core.Expense, error) {
	iter := s.client.Collection(expensesCollection).
		Where("user_id", "==", ownerID).
		OrderBy("date", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []core.Expense
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list expenses: %w", err)
		}
		e, err := expenseFromSnap(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) InsertExpense(ctx context.Context, ownerID string, d core.ExpenseDraft) (core.Expense, error) {
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	id := uuid.NewString()
	_, err := s.client.Collection(expensesCollection).Doc(id).Create(ctx, expenseDoc{
		UserID:   ownerID,
		Category: d.Category,
		Amount:   d.Amount.String(),
		Date:     d.Date,
		Note:     d.Note,
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	return d.Expense(id), nil
}

func (s *Store) UpdateExpense(ctx context.Context, ownerID, id string, d core.ExpenseDraft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	_, err := s.client.Collection(expensesCollection).Doc(id).Set(ctx, expenseDoc{
		UserID:   ownerID,
		Category: d.Category,
		Amount:   d.Amount.String(),
		Date:     d.Date,
		Note:     d.Note,
	})
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.client.Collection(expensesCollection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

// checkOwner rejects updates and deletes against records the owner does
// not hold; a foreign record looks identical to a missing one.
func (s *Store) checkOwner(ctx context.Context, ownerID, id string) error {
	snap, err := s.client.Collection(expensesCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return store.ErrExpenseNotFound
	}
	if err != nil {
		return fmt.Errorf("get expense: %w", err)
	}
	var doc expenseDoc
	if err := snap.DataTo(&doc); err != nil {
		return fmt.Errorf("parse expense: %w", err)
	}
	if doc.UserID != ownerID {
		return store.ErrExpenseNotFound
	}
	return nil
}

func expenseFromSnap(snap *firestore.DocumentSnapshot) (core.Expense, error) {
	var doc expenseDoc
	if err := snap.DataTo(&doc); err != nil {
		return core.Expense{}, fmt.Errorf("parse expense %s: %w", snap.Ref.ID, err)
	}
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored amount %q: %w", doc.Amount, err)
	}
	return core.Expense{
		ID:       snap.Ref.ID,
		Category: doc.Category,
		Amount:   amount,
		Date:     doc.Date,
		Note:     doc.Note,
	}, nil
}
