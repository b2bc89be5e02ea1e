package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"kharcha/internal/core"
	"kharcha/internal/identity"
	"kharcha/internal/log"
	"kharcha/internal/store"
	"kharcha/internal/store/memory"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelError, Handler: slog.NewTextHandler(discard{}, nil)})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func draft(category, amount, date string) core.ExpenseDraft {
	v, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	return core.ExpenseDraft{Category: category, Amount: v, Date: date}
}

// countingStore tracks calls so tests can assert a store was never touched.
type countingStore struct {
	store.Store
	calls int
}

func (c *countingStore) GetProfile(ctx context.Context, ownerID string) (core.Profile, error) {
	c.calls++
	return c.Store.GetProfile(ctx, ownerID)
}

func (c *countingStore) ListExpenses(ctx context.Context, ownerID string) ([]core.Expense, error) {
	c.calls++
	return c.Store.ListExpenses(ctx, ownerID)
}

func (c *countingStore) InsertExpense(ctx context.Context, ownerID string, d core.ExpenseDraft) (core.Expense, error) {
	c.calls++
	return c.Store.InsertExpense(ctx, ownerID, d)
}

// failingStore fails every operation with the given error.
type failingStore struct{ err error }

func (f failingStore) GetProfile(context.Context, string) (core.Profile, error) {
	return core.Profile{}, f.err
}
func (f failingStore) UpsertProfile(context.Context, string, core.Profile) error { return f.err }
func (f failingStore) ListExpenses(context.Context, string) ([]core.Expense, error) {
	return nil, f.err
}
func (f failingStore) InsertExpense(context.Context, string, core.ExpenseDraft) (core.Expense, error) {
	return core.Expense{}, f.err
}
func (f failingStore) UpdateExpense(context.Context, string, string, core.ExpenseDraft) error {
	return f.err
}
func (f failingStore) DeleteExpense(context.Context, string, string) error { return f.err }

func guestService(t *testing.T) (*BudgetService, *memory.Store, *countingStore) {
	t.Helper()
	local := memory.New()
	remote := &countingStore{Store: memory.New()}
	svc := NewBudgetService(local, local, remote, identity.ContextService{}, FixedMode(ModeGuest), testLogger())
	return svc, local, remote
}

func authService(t *testing.T, remote store.Store) *BudgetService {
	t.Helper()
	local := memory.New()
	return NewBudgetService(local, local, remote, identity.ContextService{}, FixedMode(ModeAuthenticated), testLogger())
}

func authCtx(id, name string) context.Context {
	return identity.WithUser(context.Background(), &identity.User{ID: id, Name: name})
}

func TestGuestSetupPersistsLocallyOnly(t *testing.T) {
	ctx := context.Background()
	svc, local, remote := guestService(t)

	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	info := svc.Session(ctx)
	if !info.Ready || !info.NeedsSetup {
		t.Fatalf("expected ready + needs setup, got %+v", info)
	}

	if err := svc.CompleteSetup(ctx, decimal.NewFromInt(50000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if svc.Session(ctx).NeedsSetup {
		t.Fatalf("expected setup gate cleared")
	}

	v, ok, err := local.Get(ctx, store.KeyGuestIncome)
	if err != nil || !ok || v != "50000" {
		t.Fatalf("expected persisted income 50000, got %q ok=%v err=%v", v, ok, err)
	}
	v, ok, _ = local.Get(ctx, store.KeyGuestIsSetup)
	if !ok || v != "true" {
		t.Fatalf("expected persisted setup flag, got %q ok=%v", v, ok)
	}
	if remote.calls != 0 {
		t.Fatalf("guest mode touched the remote store %d times", remote.calls)
	}
}

func TestGuestStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	local := memory.New()

	first := NewBudgetService(local, local, nil, identity.ContextService{}, FixedMode(ModeGuest), testLogger())
	if err := first.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := first.CompleteSetup(ctx, decimal.NewFromInt(40000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := first.AddExpense(ctx, draft("Food", "250", "2024-04-01")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A fresh gateway over the same device store picks up where we left off.
	second := NewBudgetService(local, local, nil, identity.ContextService{}, FixedMode(ModeGuest), testLogger())
	if err := second.LoadInitialState(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	income, isSetup, expenses := second.Snapshot()
	if !income.Equal(decimal.NewFromInt(40000)) || !isSetup {
		t.Fatalf("expected restored profile, got income=%s isSetup=%v", income, isSetup)
	}
	if len(expenses) != 1 || expenses[0].Category != "Food" {
		t.Fatalf("expected restored expenses, got %+v", expenses)
	}
	if second.Session(ctx).NeedsSetup {
		t.Fatalf("expected no setup gate after restore")
	}
}

func TestAuthenticatedLoadRequiresIdentity(t *testing.T) {
	svc := authService(t, memory.New())

	err := svc.LoadInitialState(context.Background())
	if !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("expected ErrIdentityUnresolved, got %v", err)
	}
	if svc.Session(context.Background()).Ready {
		t.Fatalf("session must stay unready while identity is unresolved")
	}

	// Once the identity resolves, the same call succeeds.
	if err := svc.LoadInitialState(authCtx("u1", "Asha")); err != nil {
		t.Fatalf("load with identity: %v", err)
	}
	info := svc.Session(context.Background())
	if !info.Ready || info.UserName != "Asha" {
		t.Fatalf("expected ready session for Asha, got %+v", info)
	}
}

func TestAuthenticatedFirstSignInNeedsSetup(t *testing.T) {
	svc := authService(t, memory.New())
	ctx := authCtx("u1", "Asha")

	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !svc.Session(ctx).NeedsSetup {
		t.Fatalf("fresh user should need setup")
	}
}

func TestAuthenticatedMutationsGoToRemote(t *testing.T) {
	remote := memory.New()
	svc := authService(t, remote)
	ctx := authCtx("u1", "Asha")

	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	e, err := svc.AddExpense(ctx, draft("Rent", "15000", "2024-03-01"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	items, err := remote.ListExpenses(ctx, "u1")
	if err != nil {
		t.Fatalf("remote list: %v", err)
	}
	if len(items) != 1 || items[0].ID != e.ID {
		t.Fatalf("expected expense in remote store, got %+v", items)
	}

	if err := svc.DeleteExpense(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, _, mirror := svc.Snapshot()
	if len(mirror) != 0 {
		t.Fatalf("expected empty mirror after delete, got %+v", mirror)
	}
	items, _ = remote.ListExpenses(ctx, "u1")
	if len(items) != 0 {
		t.Fatalf("expected empty remote store after delete, got %+v", items)
	}
}

func TestFailedRemoteInsertLeavesMirrorUnchanged(t *testing.T) {
	boom := errors.New("firestore down")
	svc := authService(t, failingStore{err: boom})
	ctx := authCtx("u1", "")

	// Seed the mirror directly; the load path would fail against the
	// failing store.
	svc.mu.Lock()
	svc.state = SessionReady
	svc.mu.Unlock()

	_, err := svc.AddExpense(ctx, draft("Food", "100", "2024-01-01"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	_, _, mirror := svc.Snapshot()
	if len(mirror) != 0 {
		t.Fatalf("mirror changed on failed write: %+v", mirror)
	}
}

func TestEditReplacesFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := guestService(t)
	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	e, err := svc.AddExpense(ctx, draft("Food", "100", "2024-01-01"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	edited := draft("Transport", "80", "2024-01-02")
	edited.Note = "bus pass"
	if err := svc.EditExpense(ctx, e.ID, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}

	_, _, mirror := svc.Snapshot()
	if len(mirror) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(mirror))
	}
	got := mirror[0]
	if got.ID != e.ID {
		t.Fatalf("edit changed the id: %s -> %s", e.ID, got.ID)
	}
	if got.Category != "Transport" || got.Note != "bus pass" || got.Date != "2024-01-02" {
		t.Fatalf("fields not replaced: %+v", got)
	}
}

func TestEditWithSameFieldsKeepsSummary(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := guestService(t)
	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := svc.CompleteSetup(ctx, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	e, err := svc.AddExpense(ctx, draft("Food", "100", "2024-01-01"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	before := svc.Summary()
	if err := svc.EditExpense(ctx, e.ID, e.Draft()); err != nil {
		t.Fatalf("edit: %v", err)
	}
	after := svc.Summary()

	if !after.TotalExpenses.Equal(before.TotalExpenses) || !after.Savings.Equal(before.Savings) {
		t.Fatalf("summary changed on no-op edit: %+v vs %+v", before, after)
	}
	if len(after.DailySpending) != len(before.DailySpending) || len(after.Monthly) != len(before.Monthly) {
		t.Fatalf("groupings changed on no-op edit")
	}
}

func TestDeleteUnknownExpense(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := guestService(t)
	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := svc.DeleteExpense(ctx, "nope"); !errors.Is(err, store.ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}
}

func TestSummaryReflectsMirror(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := guestService(t)
	if err := svc.LoadInitialState(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := svc.CompleteSetup(ctx, decimal.NewFromInt(50000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := svc.AddExpense(ctx, draft("Food", "1000", "2024-01-05")); err != nil {
		t.Fatalf("add: %v", err)
	}

	sum := svc.Summary()
	if !sum.TotalExpenses.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total 1000, got %s", sum.TotalExpenses)
	}
	if !sum.Savings.Equal(decimal.NewFromInt(49000)) {
		t.Fatalf("expected savings 49000, got %s", sum.Savings)
	}
	if len(sum.Monthly) != 1 || sum.Monthly[0].Label != "Jan 24" {
		t.Fatalf("unexpected monthly rollup: %+v", sum.Monthly)
	}
}

func TestSettingsModeReadsFlag(t *testing.T) {
	ctx := context.Background()
	settings := memory.New()
	mode := SettingsMode{Settings: settings}

	if got := mode.Mode(ctx); got != ModeAuthenticated {
		t.Fatalf("absent flag: expected authenticated, got %s", got)
	}
	_ = settings.Set(ctx, store.KeyGuestMode, store.GuestModeEnabled)
	if got := mode.Mode(ctx); got != ModeGuest {
		t.Fatalf("enabled flag: expected guest, got %s", got)
	}
	_ = settings.Set(ctx, store.KeyGuestMode, "disabled")
	if got := mode.Mode(ctx); got != ModeAuthenticated {
		t.Fatalf("disabled flag: expected authenticated, got %s", got)
	}
}
