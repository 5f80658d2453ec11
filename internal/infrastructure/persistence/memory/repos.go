package memory

import (
	"context"
	"sort"
	"time"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/projection"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	"github.com/shopspring/decimal"
)

// RequestRepo implements port.RequestRepository
type RequestRepo struct{ s *Store }

func (r *RequestRepo) Create(ctx context.Context, req *entity.SpendRequest) error {
	if err := projection.Verify(req); err != nil {
		return err
	}
	return r.s.write(ctx, func(d *state) error {
		d.nextRequestID++
		req.ID = d.nextRequestID
		req.Version = 1
		now := time.Now()
		if req.CreatedAt.IsZero() {
			req.CreatedAt = now
		}
		req.UpdatedAt = now
		assignLineIDs(d, req)
		d.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *RequestRepo) GetByID(ctx context.Context, id int64) (*entity.SpendRequest, error) {
	var out *entity.SpendRequest
	err := r.s.read(ctx, func(d *state) error {
		req, ok := d.requests[id]
		if !ok {
			return apperr.NotFoundf("spend request %d", id)
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *RequestRepo) List(ctx context.Context, filter port.RequestFilter) ([]*entity.SpendRequest, error) {
	var out []*entity.SpendRequest
	_ = r.s.read(ctx, func(d *state) error {
		for _, req := range d.requests {
			if filter.OrgUnit != "" && req.OrgUnit != filter.OrgUnit {
				continue
			}
			if filter.Requester != "" && req.Requester != filter.Requester {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
			out = append(out, req.Clone())
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*entity.SpendRequest{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *RequestRepo) Update(ctx context.Context, req *entity.SpendRequest, expectedVersion int64) error {
	if err := projection.Verify(req); err != nil {
		return err
	}
	return r.s.write(ctx, func(d *state) error {
		stored, ok := d.requests[req.ID]
		if !ok {
			return apperr.NotFoundf("spend request %d", req.ID)
		}
		if stored.Version != expectedVersion {
			return &apperr.ConcurrentModificationError{
				RequestID: req.ID,
				Expected:  expectedVersion,
				Actual:    stored.Version,
				Reason:    "version changed before write",
			}
		}
		req.Version = expectedVersion + 1
		req.UpdatedAt = time.Now()
		assignLineIDs(d, req)
		d.requests[req.ID] = req.Clone()
		return nil
	})
}

func assignLineIDs(d *state, req *entity.SpendRequest) {
	for _, l := range req.Lines {
		if l.ID == 0 {
			d.nextLineID++
			l.ID = d.nextLineID
		}
		l.RequestID = req.ID
	}
}

// RouteSettingRepo implements port.RouteSettingRepository
type RouteSettingRepo struct{ s *Store }

func (r *RouteSettingRepo) Snapshot(ctx context.Context) (*routing.Settings, error) {
	var out *routing.Settings
	_ = r.s.read(ctx, func(d *state) error {
		out = routing.NewSettings(d.routeVersion, d.routes, d.budgetControl)
		return nil
	})
	return out, nil
}

func (r *RouteSettingRepo) Replace(ctx context.Context, settings []entity.ApprovalRouteSetting, budgetControl bool) (int64, error) {
	for _, s := range settings {
		if err := routing.ValidateSetting(s); err != nil {
			return 0, err
		}
	}

	var version int64
	err := r.s.write(ctx, func(d *state) error {
		now := time.Now()
		routes := make([]entity.ApprovalRouteSetting, len(settings))
		for i, s := range settings {
			d.nextRouteID++
			routes[i] = s.Clone()
			routes[i].ID = d.nextRouteID
			routes[i].CreatedAt = now
			routes[i].UpdatedAt = now
		}
		d.routes = routes
		d.budgetControl = budgetControl
		d.routeVersion++
		version = d.routeVersion
		return nil
	})
	return version, err
}

// BudgetRepo implements port.BudgetRepository
type BudgetRepo struct{ s *Store }

func (r *BudgetRepo) Get(ctx context.Context, key entity.BudgetKey) (*entity.Budget, error) {
	var out *entity.Budget
	_ = r.s.read(ctx, func(d *state) error {
		if b, ok := d.budgets[key]; ok {
			c := *b
			out = &c
		}
		return nil
	})
	return out, nil
}

func (r *BudgetRepo) Upsert(ctx context.Context, budget *entity.Budget) error {
	if budget.Total.IsNegative() {
		return apperr.Validationf("budget %s total must not be negative", budget.Key)
	}
	return r.s.write(ctx, func(d *state) error {
		budget.UpdatedAt = time.Now()
		c := *budget
		d.budgets[budget.Key] = &c
		return nil
	})
}

func (r *BudgetRepo) List(ctx context.Context) ([]*entity.Budget, error) {
	var out []*entity.Budget
	_ = r.s.read(ctx, func(d *state) error {
		for _, b := range d.budgets {
			c := *b
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// ReservationRepo implements port.ReservationRepository
type ReservationRepo struct{ s *Store }

func (r *ReservationRepo) Create(ctx context.Context, res *entity.BudgetReservation) error {
	return r.s.write(ctx, func(d *state) error {
		d.reservations[res.ID] = cloneReservation(res)
		return nil
	})
}

func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*entity.BudgetReservation, error) {
	var out *entity.BudgetReservation
	err := r.s.read(ctx, func(d *state) error {
		res, ok := d.reservations[id]
		if !ok {
			return apperr.NotFoundf("reservation %s", id)
		}
		out = cloneReservation(res)
		return nil
	})
	return out, err
}

func (r *ReservationRepo) SumLocked(ctx context.Context, key entity.BudgetKey) (decimal.Decimal, error) {
	sum := decimal.Zero
	_ = r.s.read(ctx, func(d *state) error {
		for _, res := range d.reservations {
			if res.Key == key && res.IsLocked() {
				sum = sum.Add(res.Amount)
			}
		}
		return nil
	})
	return sum, nil
}

func (r *ReservationRepo) MarkReleased(ctx context.Context, res *entity.BudgetReservation) (bool, error) {
	released := false
	err := r.s.write(ctx, func(d *state) error {
		stored, ok := d.reservations[res.ID]
		if !ok {
			return apperr.NotFoundf("reservation %s", res.ID)
		}
		if !stored.IsLocked() {
			return nil
		}
		d.reservations[res.ID] = cloneReservation(res)
		released = true
		return nil
	})
	return released, err
}

func (r *ReservationRepo) ListByRequest(ctx context.Context, requestID int64) ([]*entity.BudgetReservation, error) {
	var out []*entity.BudgetReservation
	_ = r.s.read(ctx, func(d *state) error {
		for _, res := range d.reservations {
			if res.RequestID == requestID {
				out = append(out, cloneReservation(res))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LockedAt.Equal(out[j].LockedAt) {
			return out[i].LockedAt.Before(out[j].LockedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LinkRepo implements port.LinkRepository
type LinkRepo struct{ s *Store }

func (r *LinkRepo) Create(ctx context.Context, link *entity.LifecycleLink) error {
	return r.s.write(ctx, func(d *state) error {
		d.nextLinkID++
		link.ID = d.nextLinkID
		now := time.Now()
		link.CreatedAt = now
		link.UpdatedAt = now
		d.links[link.ID] = link.Clone()
		return nil
	})
}

func (r *LinkRepo) GetByID(ctx context.Context, id int64) (*entity.LifecycleLink, error) {
	var out *entity.LifecycleLink
	err := r.s.read(ctx, func(d *state) error {
		l, ok := d.links[id]
		if !ok {
			return apperr.NotFoundf("lifecycle link %d", id)
		}
		out = l.Clone()
		return nil
	})
	return out, err
}

func (r *LinkRepo) ListByRequest(ctx context.Context, requestID int64) ([]*entity.LifecycleLink, error) {
	var out []*entity.LifecycleLink
	_ = r.s.read(ctx, func(d *state) error {
		for _, l := range d.links {
			if l.RequestID == requestID {
				out = append(out, l.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *LinkRepo) Update(ctx context.Context, link *entity.LifecycleLink) error {
	return r.s.write(ctx, func(d *state) error {
		if _, ok := d.links[link.ID]; !ok {
			return apperr.NotFoundf("lifecycle link %d", link.ID)
		}
		link.UpdatedAt = time.Now()
		d.links[link.ID] = link.Clone()
		return nil
	})
}

// HistoryRepo implements port.HistoryRepository
type HistoryRepo struct{ s *Store }

func (r *HistoryRepo) Create(ctx context.Context, h *entity.ApprovalHistory) error {
	return r.s.write(ctx, func(d *state) error {
		d.nextHistoryID++
		h.ID = d.nextHistoryID
		if h.Timestamp.IsZero() {
			h.Timestamp = time.Now()
		}
		c := *h
		d.history = append(d.history, &c)
		return nil
	})
}

func (r *HistoryRepo) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error) {
	var out []*entity.ApprovalHistory
	_ = r.s.read(ctx, func(d *state) error {
		for _, h := range d.history {
			if h.RequestID == requestID {
				c := *h
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, nil
}

// DirectoryRepo implements port.DirectoryRepository
type DirectoryRepo struct{ s *Store }

func (r *DirectoryRepo) GetUser(ctx context.Context, id string) (*entity.User, error) {
	var out *entity.User
	_ = r.s.read(ctx, func(d *state) error {
		if u, ok := d.users[id]; ok {
			out = cloneUser(u)
		}
		return nil
	})
	return out, nil
}

func (r *DirectoryRepo) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	var out []*entity.User
	_ = r.s.read(ctx, func(d *state) error {
		for _, u := range d.users {
			if u.HasRole(role) {
				out = append(out, cloneUser(u))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *DirectoryRepo) UpsertUser(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		return apperr.Validationf("user id is required")
	}
	return r.s.write(ctx, func(d *state) error {
		d.users[user.ID] = cloneUser(user)
		return nil
	})
}

var (
	_ port.RequestRepository      = (*RequestRepo)(nil)
	_ port.RouteSettingRepository = (*RouteSettingRepo)(nil)
	_ port.BudgetRepository       = (*BudgetRepo)(nil)
	_ port.ReservationRepository  = (*ReservationRepo)(nil)
	_ port.LinkRepository         = (*LinkRepo)(nil)
	_ port.HistoryRepository      = (*HistoryRepo)(nil)
	_ port.DirectoryRepository    = (*DirectoryRepo)(nil)
	_ port.TransactionManager     = (*Store)(nil)
)
