// Package services holds the persistence gateway: the one component allowed
// to mutate the in-memory budget state, dispatching every mutation to the
// store the current mode makes authoritative.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"kharcha/internal/budget"
	"kharcha/internal/core"
	"kharcha/internal/identity"
	"kharcha/internal/log"
	"kharcha/internal/store"
)

var (
	// ErrIdentityUnresolved means an authenticated-mode operation ran
	// without a resolvable user.
	ErrIdentityUnresolved = errors.New("identity not resolved")

	// ErrRemoteUnavailable means authenticated mode was requested but no
	// remote store is configured.
	ErrRemoteUnavailable = errors.New("remote store not configured")

	// ErrNotReady means the session has not finished its initial load.
	ErrNotReady = errors.New("session not ready")
)

// SessionState is the session readiness machine: Unchecked until the
// initial load completes, Ready after. There is no way back.
type SessionState int

const (
	SessionUnchecked SessionState = iota
	SessionReady
)

// SessionInfo is what readiness carries once reached.
type SessionInfo struct {
	Ready      bool
	NeedsSetup bool
	Mode       Mode
	UserName   string
}

// BudgetService mediates all mutations between the in-memory mirror and
// the authoritative store for the current mode. The mirror only ever
// reflects confirmed writes: in authenticated mode nothing is applied
// until the remote store acknowledged the operation. The aggregation
// engine reads the mirror and never writes it.
type BudgetService struct {
	local    store.Store
	settings store.Settings
	remote   store.Store
	ids      identity.Service
	mode     ModeSource
	logger   *log.Logger

	mu         sync.Mutex
	state      SessionState
	needsSetup bool
	userName   string
	income     decimal.Decimal
	isSetup    bool
	expenses   []core.Expense
}

func NewBudgetService(local store.Store, settings store.Settings, remote store.Store, ids identity.Service, mode ModeSource, logger *log.Logger) *BudgetService {
	return &BudgetService{
		local:    local,
		settings: settings,
		remote:   remote,
		ids:      ids,
		mode:     mode,
		logger:   logger.WithComponent(log.ComponentGateway),
		income:   decimal.Zero,
	}
}

// LoadInitialState populates the mirror from the authoritative store and
// moves the session to Ready. Safe to call repeatedly; once Ready it is a
// no-op. In authenticated mode an unresolved identity keeps the session
// Unchecked and returns ErrIdentityUnresolved; callers must wait, not
// assume guest. The setup-gate decision must not render before this
// completes.
func (s *BudgetService) LoadInitialState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionReady {
		return nil
	}

	mode := s.mode.Mode(ctx)
	switch mode {
	case ModeGuest:
		if err := s.loadGuestLocked(ctx); err != nil {
			return err
		}
	default:
		if err := s.loadAuthenticatedLocked(ctx); err != nil {
			return err
		}
	}

	s.state = SessionReady
	s.needsSetup = !s.isSetup
	s.logger.InfoContext(ctx, "Session ready",
		log.FieldMode, string(mode),
		log.FieldOperation, log.OpLoad,
		"needs_setup", s.needsSetup,
		"expenses", len(s.expenses))
	return nil
}

func (s *BudgetService) loadGuestLocked(ctx context.Context) error {
	prof, err := s.local.GetProfile(ctx, store.GuestOwner)
	if errors.Is(err, store.ErrProfileNotFound) {
		prof = core.Profile{Income: decimal.Zero}
	} else if err != nil {
		return fmt.Errorf("load guest profile: %w", err)
	}

	items, err := s.local.ListExpenses(ctx, store.GuestOwner)
	if err != nil {
		return fmt.Errorf("load guest expenses: %w", err)
	}

	s.income = prof.Income
	s.isSetup = prof.IsSetup
	s.expenses = items
	s.userName = ""
	return nil
}

func (s *BudgetService) loadAuthenticatedLocked(ctx context.Context) error {
	if s.remote == nil {
		return ErrRemoteUnavailable
	}
	u, err := s.ids.Current(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)
	}

	var (
		prof  core.Profile
		items []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.remote.GetProfile(gctx, u.ID)
		if errors.Is(err, store.ErrProfileNotFound) {
			// Definitive "no profile yet": first sign-in, setup pending.
			prof = core.Profile{Income: decimal.Zero}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		prof = p
		return nil
	})
	g.Go(func() error {
		list, err := s.remote.ListExpenses(gctx, u.ID)
		if err != nil {
			return fmt.Errorf("load expenses: %w", err)
		}
		items = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.income = prof.Income
	s.isSetup = prof.IsSetup
	s.expenses = items
	s.userName = u.Name
	return nil
}

// Session reports readiness and, once Ready, whether onboarding is needed.
func (s *BudgetService) Session(ctx context.Context) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Ready:      s.state == SessionReady,
		NeedsSetup: s.needsSetup,
		Mode:       s.mode.Mode(ctx),
		UserName:   s.userName,
	}
}

// Snapshot returns a copy of the mirror for read-only consumers.
func (s *BudgetService) Snapshot() (income decimal.Decimal, isSetup bool, expenses []core.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.income, s.isSetup, append([]core.Expense(nil), s.expenses...)
}

// Summary recomputes all derived views from the current mirror.
func (s *BudgetService) Summary() budget.Summary {
	income, _, expenses := s.Snapshot()
	return budget.Compute(income, expenses)
}

// CompleteSetup records the initial income and marks the profile ready.
// The caller has already validated income > 0. The in-memory state is
// applied unconditionally before persistence is attempted: a responsive
// UI is preferred over dual-store consistency here, so a failed remote
// upsert leaves the mirror set up and returns the error.
func (s *BudgetService) CompleteSetup(ctx context.Context, income decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.income = income
	s.isSetup = true
	s.needsSetup = false

	mode := s.mode.Mode(ctx)
	s.logger.InfoContext(ctx, "Setup completed",
		log.FieldMode, string(mode),
		log.FieldOperation, log.OpSetup)

	if mode == ModeGuest {
		if err := s.settings.Set(ctx, store.KeyGuestIncome, income.String()); err != nil {
			return fmt.Errorf("persist guest income: %w", err)
		}
		if err := s.settings.Set(ctx, store.KeyGuestIsSetup, "true"); err != nil {
			return fmt.Errorf("persist guest setup flag: %w", err)
		}
		return nil
	}

	if s.remote == nil {
		return ErrRemoteUnavailable
	}
	u, err := s.ids.Current(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)
	}
	if err := s.remote.UpsertProfile(ctx, u.ID, core.Profile{Income: income, IsSetup: true}); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SetIncome updates the displayed income. In-memory only: the mirror is
// the source of truth for display, and persistence of later income edits
// is the setup/profile flow's concern.
func (s *BudgetService) SetIncome(v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.income = v
}

// AddExpense persists a validated draft and, only once the authoritative
// store confirmed it, appends the created record to the mirror.
func (s *BudgetService) AddExpense(ctx context.Context, d core.ExpenseDraft) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, owner, err := s.targetLocked(ctx)
	if err != nil {
		return core.Expense{}, err
	}

	e, err := target.InsertExpense(ctx, owner, d)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	s.expenses = append(s.expenses, e)

	s.logger.InfoContext(ctx, "Expense added",
		log.FieldExpenseID, e.ID,
		log.FieldCategory, e.Category,
		log.FieldAmount, e.Amount.String(),
		log.FieldDate, e.Date,
		log.FieldOperation, log.OpCreate)
	return e, nil
}

// EditExpense fully replaces the mutable fields of the expense with the
// given id; the id itself never changes. The mirror is touched only after
// the store confirmed the update.
func (s *BudgetService) EditExpense(ctx context.Context, id string, d core.ExpenseDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, owner, err := s.targetLocked(ctx)
	if err != nil {
		return err
	}

	if err := target.UpdateExpense(ctx, owner, id, d); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	for i, e := range s.expenses {
		if e.ID == id {
			s.expenses[i] = d.Expense(id)
			break
		}
	}

	s.logger.InfoContext(ctx, "Expense updated",
		log.FieldExpenseID, id,
		log.FieldOperation, log.OpUpdate)
	return nil
}

// DeleteExpense removes the expense from the authoritative store and, on
// confirmation, from the mirror.
func (s *BudgetService) DeleteExpense(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, owner, err := s.targetLocked(ctx)
	if err != nil {
		return err
	}

	if err := target.DeleteExpense(ctx, owner, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	for i, e := range s.expenses {
		if e.ID == id {
			s.expenses = append(s.expenses[:i:i], s.expenses[i+1:]...)
			break
		}
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldExpenseID, id,
		log.FieldOperation, log.OpDelete)
	return nil
}

// SignOut ends the current session with the identity provider. Without a
// resolvable user there is nothing to do.
func (s *BudgetService) SignOut(ctx context.Context) error {
	u, err := s.ids.Current(ctx)
	if err != nil {
		return nil
	}
	if err := s.ids.SignOut(ctx, u.ID); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.logger.InfoContext(ctx, "Signed out", log.FieldOperation, log.OpSignOut)
	return nil
}

// targetLocked picks the authoritative store and owner for a mutation.
// The mode is read fresh here, once per mutation.
func (s *BudgetService) targetLocked(ctx context.Context) (store.Store, string, error) {
	if s.mode.Mode(ctx) == ModeGuest {
		return s.local, store.GuestOwner, nil
	}
	if s.remote == nil {
		return nil, "", ErrRemoteUnavailable
	}
	u, err := s.ids.Current(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)
	}
	return s.remote, u.ID, nil
}
