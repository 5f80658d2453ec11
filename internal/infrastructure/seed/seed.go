// Package seed loads route settings, budgets and directory users from a
// YAML file into the stores.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the seed document. Amounts are strings so that they parse
// exactly; approvers use the "identity:<id>" / "role:<name>" form.
type File struct {
	BudgetControl *bool    `yaml:"budget_control"`
	Routes        []Route  `yaml:"routes"`
	Budgets       []Budget `yaml:"budgets"`
	Users         []User   `yaml:"users"`
}

// Route is one org unit's route setting
type Route struct {
	OrgUnit    string   `yaml:"org_unit"`
	Categories []string `yaml:"categories"`
	Levels     []Level  `yaml:"levels"`
}

// Level is one band of a route
type Level struct {
	Level      int    `yaml:"level"`
	LowerBound string `yaml:"lower_bound"`
	UpperBound string `yaml:"upper_bound"`
	Approver   string `yaml:"approver"`
}

// Budget is the total for one ledger key
type Budget struct {
	OrgUnit      string `yaml:"org_unit"`
	Account      string `yaml:"account"`
	FiscalPeriod string `yaml:"fiscal_period"`
	Total        string `yaml:"total"`
}

// User is a directory entry. Enabled defaults to true.
type User struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Enabled *bool    `yaml:"enabled"`
	Roles   []string `yaml:"roles"`
}

// Load reads and parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document, rejecting unknown keys
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Settings converts the routes and validates each one
func (f *File) Settings() ([]entity.ApprovalRouteSetting, error) {
	out := make([]entity.ApprovalRouteSetting, 0, len(f.Routes))
	for _, r := range f.Routes {
		s := entity.ApprovalRouteSetting{
			OrgUnit:    r.OrgUnit,
			Categories: r.Categories,
		}
		for _, l := range r.Levels {
			level, err := l.toEntity()
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", r.OrgUnit, err)
			}
			s.Levels = append(s.Levels, level)
		}
		if err := routing.ValidateSetting(s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (l Level) toEntity() (entity.RouteLevel, error) {
	lower, err := decimal.NewFromString(orZero(l.LowerBound))
	if err != nil {
		return entity.RouteLevel{}, fmt.Errorf("level %d lower_bound: %w", l.Level, err)
	}
	approver, err := entity.ParseApprover(l.Approver)
	if err != nil {
		return entity.RouteLevel{}, fmt.Errorf("level %d: %w", l.Level, err)
	}

	out := entity.RouteLevel{Level: l.Level, LowerBound: lower, Approver: approver}
	if l.UpperBound != "" {
		upper, err := decimal.NewFromString(l.UpperBound)
		if err != nil {
			return entity.RouteLevel{}, fmt.Errorf("level %d upper_bound: %w", l.Level, err)
		}
		out.UpperBound = &upper
	}
	return out, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Stores are the repositories a seed is written to
type Stores struct {
	Routes    port.RouteSettingRepository
	Budgets   port.BudgetRepository
	Directory port.DirectoryRepository
}

// Result summarises an Apply
type Result struct {
	RouteVersion int64 `json:"route_version"`
	Routes       int   `json:"routes"`
	Budgets      int   `json:"budgets"`
	Users        int   `json:"users"`
}

// Apply writes the seed. The route table is replaced only when the file
// has routes; defaultBudgetControl applies when the file leaves
// budget_control unset.
func Apply(ctx context.Context, stores Stores, f *File, defaultBudgetControl bool) (*Result, error) {
	settings, err := f.Settings()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user without id in seed file")
		}
		enabled := true
		if u.Enabled != nil {
			enabled = *u.Enabled
		}
		if err := stores.Directory.UpsertUser(ctx, &entity.User{ID: u.ID, Name: u.Name, Enabled: enabled, Roles: u.Roles}); err != nil {
			return nil, err
		}
		res.Users++
	}

	for _, b := range f.Budgets {
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			return nil, fmt.Errorf("budget %s/%s/%s total: %w", b.OrgUnit, b.Account, b.FiscalPeriod, err)
		}
		if total.IsNegative() {
			return nil, fmt.Errorf("budget %s/%s/%s total must not be negative", b.OrgUnit, b.Account, b.FiscalPeriod)
		}
		budget := &entity.Budget{
			Key:   entity.BudgetKey{OrgUnit: b.OrgUnit, Account: b.Account, FiscalPeriod: b.FiscalPeriod},
			Total: total,
		}
		if err := stores.Budgets.Upsert(ctx, budget); err != nil {
			return nil, err
		}
		res.Budgets++
	}

	if len(settings) > 0 || f.BudgetControl != nil {
		control := defaultBudgetControl
		if f.BudgetControl != nil {
			control = *f.BudgetControl
		}
		if len(settings) == 0 {
			snap, err := stores.Routes.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			settings = snap.Routes()
		}
		version, err := stores.Routes.Replace(ctx, settings, control)
		if err != nil {
			return nil, err
		}
		res.RouteVersion = version
		res.Routes = len(settings)
	}

	return res, nil
}
