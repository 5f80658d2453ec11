package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/container"
	"github.com/garyjia/spend-approval/internal/domain/entity"
)

// actionFlags are the optional flags shared by the write commands
type actionFlags struct {
	actor   string
	version int64
	lineID  int64
}

func (f *actionFlags) bind(cmd *cobra.Command, withLine bool) {
	cmd.Flags().StringVar(&f.actor, "actor", "", "Who performs the action")
	cmd.Flags().Int64Var(&f.version, "version", 0, "Fail unless the request is still at this version")
	if withLine {
		cmd.Flags().Int64Var(&f.lineID, "line", 0, "Act on one line of a multi-target request")
	}
}

func (f *actionFlags) options() []workflow.Option {
	var opts []workflow.Option
	if f.version > 0 {
		opts = append(opts, workflow.ExpectVersion(f.version))
	}
	if f.lineID > 0 {
		opts = append(opts, workflow.ForLine(f.lineID))
	}
	if f.actor != "" {
		opts = append(opts, workflow.WithActor(f.actor))
	}
	return opts
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", arg)
	}
	return id, nil
}

// transition builds a command that runs one engine write and prints the
// resulting request.
func transition(g *globals, use, short string, withLine bool, run func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error)) *cobra.Command {
	f := &actionFlags{}
	cmd := &cobra.Command{
		Use:   use + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				req, err := run(ctx, c.Engine(), id, f)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), req)
			})
		},
	}
	f.bind(cmd, withLine)
	return cmd
}

func newCreateCmd(g *globals) *cobra.Command {
	var (
		d          workflow.Draft
		amount     string
		categories []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft spend request",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			d.Amount = amt
			d.Categories = categories
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				req, err := c.Engine().CreateDraft(ctx, d)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), req)
			})
		},
	}

	cmd.Flags().StringVar(&d.Requester, "requester", "", "Requesting user id (required)")
	cmd.Flags().StringVar(&d.OrgUnit, "org", "", "Organizational unit (required)")
	cmd.Flags().StringVar(&d.Account, "account", "", "Budget account")
	cmd.Flags().StringVar(&d.FiscalPeriod, "period", "", "Fiscal period (defaults to the current year)")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount as a decimal string (required)")
	cmd.Flags().StringVar(&d.Currency, "currency", "", "Currency code")
	cmd.Flags().StringVar(&d.Description, "description", "", "Free-text description")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Expense category (repeatable)")
	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newSubmitCmd(g *globals) *cobra.Command {
	return transition(g, "submit", "Submit a draft for approval", false,
		func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error) {
			return e.Submit(ctx, id, f.options()...)
		})
}

func newApproveCmd(g *globals) *cobra.Command {
	cmd := transition(g, "approve", "Approve the current level as --actor", true,
		func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error) {
			return e.Approve(ctx, id, f.actor, f.options()...)
		})
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newRejectCmd(g *globals) *cobra.Command {
	var reason string
	cmd := transition(g, "reject", "Reject the current level as --actor", true,
		func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error) {
			return e.Reject(ctx, id, f.actor, reason, f.options()...)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "Why the request is rejected (required)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newCancelCmd(g *globals) *cobra.Command {
	var mode string
	cmd := transition(g, "cancel", "Cancel a request, optionally cascading to downstream documents", false,
		func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error) {
			m := entity.CancelMode(mode)
			if !m.IsValid() {
				return nil, fmt.Errorf("--mode must be %s or %s", entity.CancelManual, entity.CancelCascade)
			}
			return e.Cancel(ctx, id, m, f.options()...)
		})
	cmd.Flags().StringVar(&mode, "mode", string(entity.CancelManual), "manual or cascade")
	return cmd
}

func newReopenCmd(g *globals) *cobra.Command {
	return transition(g, "reopen", "Return a rejected or cancelled request to draft", false,
		func(ctx context.Context, e workflow.Engine, id int64, f *actionFlags) (*entity.SpendRequest, error) {
			return e.Reopen(ctx, id, f.options()...)
		})
}

type statusOutput struct {
	Request      *entity.SpendRequest        `json:"request"`
	History      []*entity.ApprovalHistory   `json:"history"`
	Links        []*entity.LifecycleLink     `json:"links"`
	Reservations []*entity.BudgetReservation `json:"reservations"`
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show a request with its history, links and reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				e := c.Engine()
				out := statusOutput{}
				if out.Request, err = e.Get(ctx, id); err != nil {
					return err
				}
				if out.History, err = e.History(ctx, id); err != nil {
					return err
				}
				if out.Links, err = e.Links(ctx, id); err != nil {
					return err
				}
				if out.Reservations, err = e.Reservations(ctx, id); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var filter port.RequestFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				reqs, err := c.Engine().List(ctx, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), reqs)
			})
		},
	}
	cmd.Flags().StringVar(&filter.OrgUnit, "org", "", "Filter by organizational unit")
	cmd.Flags().StringVar(&filter.Requester, "requester", "", "Filter by requester")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by projected status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum rows")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Rows to skip")
	return cmd
}

func newBalanceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <org-unit> <account> <fiscal-period>",
		Short: "Show total, reserved and available amounts for a budget",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := entity.BudgetKey{OrgUnit: args[0], Account: args[1], FiscalPeriod: args[2]}
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				bal, err := c.Engine().Balance(ctx, key)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), bal)
			})
		},
	}
}

func newSeedRoutesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-routes <seed.yaml>",
		Short: "Load routes, budgets and users from a seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				res, err := c.Seed(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
