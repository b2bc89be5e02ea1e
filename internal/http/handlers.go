package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"kharcha/internal/budget"
	"kharcha/internal/core"
	"kharcha/internal/log"
	"kharcha/internal/services"
	"kharcha/internal/store"
)

type sessionResponse struct {
	Ready      bool   `json:"ready"`
	NeedsSetup bool   `json:"needsSetup"`
	Mode       string `json:"mode"`
	UserName   string `json:"userName,omitempty"`
}

type incomeRequest struct {
	Income json.RawMessage `json:"income"`
}

type expenseRequest struct {
	ID       string          `json:"id,omitempty"`
	Category string          `json:"category"`
	Amount   json.RawMessage `json:"amount"`
	Date     string          `json:"date"`
	Note     string          `json:"note"`
}

type expenseListResponse struct {
	Expenses []core.Expense `json:"expenses"`
}

// summaryResponse is the aggregation output plus preformatted display
// strings, so the frontend never reimplements currency formatting.
type summaryResponse struct {
	budget.Summary
	Display displayBlock `json:"display"`
}

type displayBlock struct {
	Income        string            `json:"income"`
	TotalExpenses string            `json:"totalExpenses"`
	Savings       string            `json:"savings"`
	Categories    map[string]string `json:"categories"`
}

// handleSession reports session readiness. The initial load is attempted
// here; an unresolved identity is not an error at this endpoint, it just
// means the session stays unready and the client must retry.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	if err := s.svc.LoadInitialState(r.Context()); err != nil {
		if !errors.Is(err, services.ErrIdentityUnresolved) {
			s.logger.ErrorContext(r.Context(), "Initial load failed", log.FieldError, err.Error())
			writeJSON(w, http.StatusInternalServerError, errorBody("failed to load budget state"))
			return
		}
	}

	info := s.svc.Session(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		Ready:      info.Ready,
		NeedsSetup: info.NeedsSetup,
		Mode:       string(info.Mode),
		UserName:   info.UserName,
	})
}

// handleSetup records the initial income and ends onboarding.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	var req incomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	income, err := parseMoney(req.Income, core.ParseAmount)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("income must be a positive number"))
		return
	}

	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	if err := s.svc.CompleteSetup(r.Context(), income); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"income": income, "isSetup": true})
}

// handleIncome updates the displayed monthly income.
func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", http.MethodPut)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	var req incomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	income, err := parseMoney(req.Income, core.ParseIncome)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("income must be a non-negative number"))
		return
	}

	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	s.svc.SetIncome(income)
	writeJSON(w, http.StatusOK, map[string]any{"income": income})
}

// handleExpenses is the expense CRUD endpoint. PUT and DELETE carry the
// expense id in the body; ids are opaque strings assigned by the store.
func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listExpenses(w, r)
	case http.MethodPost:
		s.createExpense(w, r)
	case http.MethodPut:
		s.updateExpense(w, r)
	case http.MethodDelete:
		s.deleteExpense(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
	}
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	_, _, expenses := s.svc.Snapshot()
	writeJSON(w, http.StatusOK, expenseListResponse{Expenses: expenses})
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.decodeDraft(w, r, nil)
	if !ok {
		return
	}
	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	e, err := s.svc.AddExpense(r.Context(), draft)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request) {
	var id string
	draft, ok := s.decodeDraft(w, r, &id)
	if !ok {
		return
	}
	if id == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("expense id is required"))
		return
	}
	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	if err := s.svc.EditExpense(r.Context(), id, draft); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft.Expense(id))
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("expense id is required"))
		return
	}
	if err := s.ensureLoaded(w, r); err != nil {
		return
	}
	if err := s.svc.DeleteExpense(r.Context(), req.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": req.ID})
}

// handleSummary recomputes every derived view from the current state.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	if err := s.ensureLoaded(w, r); err != nil {
		return
	}

	income, _, _ := s.svc.Snapshot()
	sum := s.svc.Summary()

	display := displayBlock{
		Income:        core.FormatINR(income),
		TotalExpenses: core.FormatINR(sum.TotalExpenses),
		Savings:       core.FormatINR(sum.Savings),
		Categories:    make(map[string]string, len(sum.CategoryTotals)),
	}
	// Unknown persisted categories fold into the fallback bucket for
	// display; raw totals keep the stored name.
	folded := make(map[string]decimal.Decimal, len(sum.CategoryTotals))
	for name, amount := range sum.CategoryTotals {
		bucket := core.CategoryOrFallback(name)
		folded[bucket] = folded[bucket].Add(amount)
	}
	for bucket, amount := range folded {
		display.Categories[bucket] = core.FormatINR(amount)
	}

	writeJSON(w, http.StatusOK, summaryResponse{Summary: sum, Display: display})
}

// handleSignOut ends the identity session. Idempotent: signing out without
// a session succeeds.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	if err := s.svc.SignOut(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// ensureLoaded runs the initial load before any data access and writes the
// error response itself when the session cannot become ready.
func (s *Server) ensureLoaded(w http.ResponseWriter, r *http.Request) error {
	err := s.svc.LoadInitialState(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
	}
	return err
}

// decodeDraft reads and validates an expense draft from the request body.
// When id is non-nil the body's id field is captured there. On failure the
// response has already been written.
func (s *Server) decodeDraft(w http.ResponseWriter, r *http.Request, id *string) (core.ExpenseDraft, bool) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return core.ExpenseDraft{}, false
	}
	if id != nil {
		*id = req.ID
	}

	amount, err := parseMoney(req.Amount, core.ParseAmount)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("amount must be a positive number"))
		return core.ExpenseDraft{}, false
	}

	draft := core.ExpenseDraft{
		Category: sanitizeInput(req.Category),
		Amount:   amount,
		Date:     sanitizeInput(req.Date),
		Note:     sanitizeInput(req.Note),
	}
	if err := draft.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return core.ExpenseDraft{}, false
	}
	return draft, true
}

// parseMoney accepts either a JSON number or a string ("12,34" included)
// and parses it with the given parser.
func parseMoney(raw json.RawMessage, parse func(string) (decimal.Decimal, error)) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return parse(s)
}

// writeServiceError maps gateway and store errors to HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrIdentityUnresolved):
		writeJSON(w, http.StatusUnauthorized, errorBody("sign-in required"))
	case errors.Is(err, store.ErrExpenseNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("expense not found"))
	case errors.Is(err, store.ErrProfileNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("profile not found"))
	case errors.Is(err, services.ErrRemoteUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("remote store unavailable"))
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrUnknownCategory),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrNoteTooLong):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		s.logger.ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
