package http

import (
	"context"
	"net/http"

	"fintrack/internal/api"
	"fintrack/internal/core"
	"fintrack/internal/events"
	"fintrack/internal/log"
	"fintrack/internal/query"
	"fintrack/internal/session"
)

// Query families. Every key of a family is invalidated together after a
// mutation.
const (
	resourceTransactions = "transactions"
	resourceReports      = "reports"
)

func listKey(f api.Filter) query.Key { return query.NewKey(resourceTransactions, "type", string(f)) }
func detailKey(id string) query.Key  { return query.NewKey(resourceTransactions, "id", id) }
func reportsKey() query.Key          { return query.NewKey(resourceReports) }

// tokenReady reports whether reads may start: they need the access token.
func tokenReady(sess session.Session) bool {
	return sess.Identity != nil && sess.Identity.AccessToken != ""
}

// transactionFormPage is the data of the add form.
type transactionFormPage struct {
	Form              TransactionForm
	IncomeCategories  []string
	ExpenseCategories []string
}

func newTransactionFormPage(f TransactionForm) transactionFormPage {
	return transactionFormPage{
		Form:              f,
		IncomeCategories:  core.Categories(core.Income),
		ExpenseCategories: core.Categories(core.Expense),
	}
}

type filterLink struct {
	Value  api.Filter
	Label  string
	Active bool
}

// transactionsPage is the data of the list.
type transactionsPage struct {
	Filter  api.Filter
	Filters []filterLink
	Items   []core.Transaction
	Loading bool
	Error   string
}

// detailsPage is the data of the details and edit page.
type detailsPage struct {
	transactionFormPage
	Transaction core.Transaction
	Loading     bool
	Error       string
}

func filterLinks(active api.Filter) []filterLink {
	return []filterLink{
		{Value: api.FilterAll, Label: "All", Active: active == api.FilterAll},
		{Value: api.FilterIncome, Label: "Income", Active: active == api.FilterIncome},
		{Value: api.FilterExpense, Label: "Expense", Active: active == api.FilterExpense},
	}
}

func (s *Server) handleAddTransactionForm(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	page := newTransactionFormPage(DefaultTransactionForm(core.Today()))
	s.write(w, r, v, Page("add_transaction", "Add Transaction").With(page))
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if err := r.ParseForm(); err != nil {
		s.write(w, r, v, Page("add_transaction", "Add Transaction").Status(http.StatusBadRequest).
			With(newTransactionFormPage(DefaultTransactionForm(core.Today()))).Info("Invalid request"))
		return
	}

	form, in, err := ParseTransactionForm(r.PostForm, "")
	if err != nil {
		s.write(w, r, v, Page("add_transaction", "Add Transaction").Status(http.StatusUnprocessableEntity).
			With(newTransactionFormPage(form)))
		return
	}

	ctx := r.Context()
	tx, err := withToken(ctx, v, func(token string) (core.Transaction, error) {
		return s.backend.CreateTransaction(ctx, token, in)
	})
	if err != nil {
		s.logBackendError(ctx, "Failed to add transaction", err, log.OpCreate)
		s.write(w, r, v, Page("add_transaction", "Add Transaction").Status(statusFor(err)).
			With(newTransactionFormPage(form)).Error(err))
		return
	}

	s.transactionChanged(ctx, v, events.ActionCreated, log.OpCreate, tx.ID, in.Type, in.Category)
	s.write(w, r, v, Redirect("/transactions").Success("Transaction added successfully!"))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	filter := api.ParseFilter(r.URL.Query().Get("type"))

	ctx, cancel := context.WithTimeout(r.Context(), s.queryWait)
	defer cancel()
	res := query.Fetch(ctx, v.Queries, listKey(filter), tokenReady(sess), s.listTransactions(v, filter))

	page := transactionsPage{
		Filter:  filter,
		Filters: filterLinks(filter),
		Items:   res.Data,
		Loading: res.IsLoading && !res.HasData,
	}
	resp := Page("transactions", "My Transactions")
	if page.Loading {
		resp.Refresh(2)
	}
	if res.IsError {
		page.Error = core.UserMessage(res.Err)
		if !res.HasData {
			resp.Status(statusFor(res.Err))
		}
	}
	s.write(w, r, v, resp.With(page))
}

func (s *Server) handleTransactionDetails(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	id := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), s.queryWait)
	defer cancel()
	res := query.Fetch(ctx, v.Queries, detailKey(id), tokenReady(sess), s.getTransaction(v, id))

	if res.IsError && !res.HasData && isNotFound(res.Err) {
		s.handleNotFound(w, r, v, sess)
		return
	}

	page := detailsPage{
		transactionFormPage: newTransactionFormPage(FormFromTransaction(res.Data)),
		Transaction:         res.Data,
		Loading:             res.IsLoading && !res.HasData,
	}
	resp := Page("transaction_details", "Transaction Details")
	if page.Loading {
		resp.Refresh(2)
	}
	if res.IsError {
		page.Error = core.UserMessage(res.Err)
		if !res.HasData {
			resp.Status(statusFor(res.Err))
		}
	}
	s.write(w, r, v, resp.With(page))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	id := r.PathValue("id")
	ctx := r.Context()

	wctx, cancel := context.WithTimeout(ctx, s.queryWait)
	defer cancel()
	res := query.Fetch(wctx, v.Queries, detailKey(id), tokenReady(sess), s.getTransaction(v, id))
	if !res.HasData {
		if res.IsError && isNotFound(res.Err) {
			s.handleNotFound(w, r, v, sess)
			return
		}
		err := res.Err
		if err == nil {
			err = &core.NetworkError{Op: "get transaction", Err: context.DeadlineExceeded}
		}
		s.write(w, r, v, Redirect("/transactions/"+id).Error(err))
		return
	}
	current := res.Data

	if err := r.ParseForm(); err != nil {
		s.write(w, r, v, Redirect("/transactions/"+id).Info("Invalid request"))
		return
	}
	form, in, err := ParseTransactionForm(r.PostForm, current.Type)
	if err != nil {
		page := detailsPage{transactionFormPage: newTransactionFormPage(form), Transaction: current}
		s.write(w, r, v, Page("transaction_details", "Transaction Details").Status(http.StatusUnprocessableEntity).With(page))
		return
	}

	patch := core.Diff(current, in)
	if patch.IsEmpty() {
		s.write(w, r, v, Redirect("/transactions/"+id).Info("Nothing to update."))
		return
	}

	_, err = withToken(ctx, v, func(token string) (core.Transaction, error) {
		return s.backend.UpdateTransaction(ctx, token, id, patch)
	})
	if err != nil {
		s.logBackendError(ctx, "Failed to update transaction", err, log.OpUpdate)
		page := detailsPage{transactionFormPage: newTransactionFormPage(form), Transaction: current}
		s.write(w, r, v, Page("transaction_details", "Transaction Details").Status(statusFor(err)).With(page).Error(err))
		return
	}

	s.transactionChanged(ctx, v, events.ActionUpdated, log.OpUpdate, id, in.Type, in.Category)
	s.write(w, r, v, Redirect("/transactions/"+id).Success("Transaction updated successfully!"))
}

// handleDeleteTransaction deletes the record and refetches the list it was
// deleted from before redirecting back to it.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	id := r.PathValue("id")
	ctx := r.Context()
	filter := api.ParseFilter(r.FormValue("type"))
	back := "/transactions"
	if filter != api.FilterAll {
		back += "?type=" + string(filter)
	}

	_, err := withToken(ctx, v, func(token string) (struct{}, error) {
		return struct{}{}, s.backend.DeleteTransaction(ctx, token, id)
	})
	if err != nil {
		s.logBackendError(ctx, "Failed to delete transaction", err, log.OpDelete)
		s.write(w, r, v, Redirect(back).Error(err))
		return
	}

	v.Queries.Remove(detailKey(id))
	s.transactionChanged(ctx, v, events.ActionDeleted, log.OpDelete, id, "", "")

	wctx, cancel := context.WithTimeout(ctx, s.queryWait)
	defer cancel()
	query.Refetch(wctx, v.Queries, listKey(filter), s.listTransactions(v, filter))

	s.write(w, r, v, Redirect(back).Success("Transaction deleted successfully!"))
}

func (s *Server) listTransactions(v *session.Visitor, filter api.Filter) func(context.Context) ([]core.Transaction, error) {
	return func(ctx context.Context) ([]core.Transaction, error) {
		return withToken(ctx, v, func(token string) ([]core.Transaction, error) {
			return s.backend.ListTransactions(ctx, token, filter)
		})
	}
}

func (s *Server) getTransaction(v *session.Visitor, id string) func(context.Context) (core.Transaction, error) {
	return func(ctx context.Context) (core.Transaction, error) {
		return withToken(ctx, v, func(token string) (core.Transaction, error) {
			return s.backend.GetTransaction(ctx, token, id)
		})
	}
}

// withToken runs fn with the visitor's access token. Without a usable token
// fn is not called and an AuthError is returned.
func withToken[T any](ctx context.Context, v *session.Visitor, fn func(token string) (T, error)) (T, error) {
	token, err := v.Store.AccessToken(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(token)
}

// transactionChanged drops the visitor's stale reads and tells the other
// instances.
func (s *Server) transactionChanged(ctx context.Context, v *session.Visitor, action events.Action, op, id string, t core.TransactionType, category string) {
	v.Queries.InvalidateFamily(resourceTransactions)
	v.Queries.InvalidateFamily(resourceReports)
	s.structured.LogTransactionChanged(ctx, op, id, string(t), category)

	msg := events.NewTransactionChanged(v.UID(), id, action)
	if err := s.publisher.PublishTransactionChanged(ctx, msg); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Failed to publish transaction change",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldOperation, log.OpPublish,
			log.FieldError, err.Error())
	}
}

func (s *Server) logBackendError(ctx context.Context, msg string, err error, op string) {
	s.structured.LogError(ctx, msg, err, errorType(err), op, log.NewFields().WithComponent(log.ComponentAPI))
}
