// Package memory is a process-local store implementing every repository
// port. Transactions snapshot the whole state and restore it on error.
// Reads outside a transaction see the last committed state.
package memory

import (
	"context"
	"sync"

	"github.com/garyjia/spend-approval/internal/domain/entity"
)

type txKey struct{}

type state struct {
	requests     map[int64]*entity.SpendRequest
	budgets      map[entity.BudgetKey]*entity.Budget
	reservations map[string]*entity.BudgetReservation
	links        map[int64]*entity.LifecycleLink
	history      []*entity.ApprovalHistory
	users        map[string]*entity.User
	routes       []entity.ApprovalRouteSetting

	routeVersion  int64
	budgetControl bool

	nextRequestID int64
	nextLineID    int64
	nextLinkID    int64
	nextHistoryID int64
	nextRouteID   int64
}

func newState() *state {
	return &state{
		requests:      make(map[int64]*entity.SpendRequest),
		budgets:       make(map[entity.BudgetKey]*entity.Budget),
		reservations:  make(map[string]*entity.BudgetReservation),
		links:         make(map[int64]*entity.LifecycleLink),
		users:         make(map[string]*entity.User),
		budgetControl: true,
	}
}

func (s *state) clone() *state {
	out := *s
	out.requests = make(map[int64]*entity.SpendRequest, len(s.requests))
	for k, v := range s.requests {
		out.requests[k] = v.Clone()
	}
	out.budgets = make(map[entity.BudgetKey]*entity.Budget, len(s.budgets))
	for k, v := range s.budgets {
		b := *v
		out.budgets[k] = &b
	}
	out.reservations = make(map[string]*entity.BudgetReservation, len(s.reservations))
	for k, v := range s.reservations {
		out.reservations[k] = cloneReservation(v)
	}
	out.links = make(map[int64]*entity.LifecycleLink, len(s.links))
	for k, v := range s.links {
		out.links[k] = v.Clone()
	}
	out.history = make([]*entity.ApprovalHistory, len(s.history))
	for i, h := range s.history {
		c := *h
		out.history[i] = &c
	}
	out.users = make(map[string]*entity.User, len(s.users))
	for k, v := range s.users {
		out.users[k] = cloneUser(v)
	}
	out.routes = make([]entity.ApprovalRouteSetting, len(s.routes))
	for i, r := range s.routes {
		out.routes[i] = r.Clone()
	}
	return &out
}

// Store holds the state behind every repository
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state

	// committed is the pre-transaction snapshot while one is running
	committed *state
}

// NewStore creates an empty store with budget control enabled
func NewStore() *Store {
	return &Store{data: newState()}
}

// WithTransaction runs fn against a snapshot boundary. Transactions are
// serialized; an error restores the state captured before fn ran.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.data.clone()
	s.committed = saved
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, true))

	s.mu.Lock()
	if err != nil {
		s.data = saved
	}
	s.committed = nil
	s.mu.Unlock()
	return err
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// write applies fn under the data lock. Writes outside a transaction also
// wait for any running transaction so a rollback cannot discard them.
func (s *Store) write(ctx context.Context, fn func(d *state) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// read applies fn to the state visible from ctx. Outside a transaction
// that is the committed snapshot, never another caller's pending writes.
func (s *Store) read(ctx context.Context, fn func(d *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.committed != nil && !inTx(ctx) {
		return fn(s.committed)
	}
	return fn(s.data)
}

// Requests returns the request repository view
func (s *Store) Requests() *RequestRepo { return &RequestRepo{s: s} }

// RouteSettings returns the route settings repository view
func (s *Store) RouteSettings() *RouteSettingRepo { return &RouteSettingRepo{s: s} }

// Budgets returns the budget repository view
func (s *Store) Budgets() *BudgetRepo { return &BudgetRepo{s: s} }

// Reservations returns the reservation repository view
func (s *Store) Reservations() *ReservationRepo { return &ReservationRepo{s: s} }

// Links returns the lifecycle link repository view
func (s *Store) Links() *LinkRepo { return &LinkRepo{s: s} }

// History returns the history repository view
func (s *Store) History() *HistoryRepo { return &HistoryRepo{s: s} }

// Directory returns the identity directory view
func (s *Store) Directory() *DirectoryRepo { return &DirectoryRepo{s: s} }

func cloneReservation(r *entity.BudgetReservation) *entity.BudgetReservation {
	out := *r
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		out.ReleasedAt = &t
	}
	return &out
}

func cloneUser(u *entity.User) *entity.User {
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	return &out
}
