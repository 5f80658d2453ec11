// Package cascade decides whether a request may be cancelled while
// downstream artifacts still reference it, and tears them down when asked.
package cascade

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Guard validates and executes request cancellation against the link graph
type Guard interface {
	// Cancel tears down live artifacts according to mode and then runs
	// finalize. Every live artifact is prepared first; link updates and
	// finalize then share one transaction, and owners are told to commit
	// or abort once it ends. In manual mode any live artifact blocks the
	// cancel with *apperr.LifecycleBlockedError.
	Cancel(ctx context.Context, req *entity.SpendRequest, mode entity.CancelMode, finalize func(ctx context.Context) error) error

	// Blocking returns the live artifacts of a request in teardown order
	Blocking(ctx context.Context, requestID int64) ([]*entity.LifecycleLink, error)
}

type guardImpl struct {
	links   port.LinkRepository
	gateway port.ArtifactGateway
	tx      port.TransactionManager
	metrics port.MetricsRecorder
	logger  Logger
}

// NewGuard creates a new cascade Guard. metrics may be nil.
func NewGuard(
	links port.LinkRepository,
	gateway port.ArtifactGateway,
	tx port.TransactionManager,
	metrics port.MetricsRecorder,
	logger Logger,
) Guard {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &guardImpl{
		links:   links,
		gateway: gateway,
		tx:      tx,
		metrics: metrics,
		logger:  logger,
	}
}

func (g *guardImpl) Blocking(ctx context.Context, requestID int64) ([]*entity.LifecycleLink, error) {
	all, err := g.links.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links for request %d: %w", requestID, err)
	}

	live := make([]*entity.LifecycleLink, 0, len(all))
	for _, l := range all {
		if l.IsLive() {
			live = append(live, l)
		}
	}
	return TeardownOrder(live), nil
}

func (g *guardImpl) Cancel(ctx context.Context, req *entity.SpendRequest, mode entity.CancelMode, finalize func(ctx context.Context) error) error {
	if !mode.IsValid() {
		return apperr.Validationf("unknown cancel mode %q", mode)
	}

	live, err := g.Blocking(ctx, req.ID)
	if err != nil {
		return err
	}

	if len(live) == 0 {
		return g.tx.WithTransaction(ctx, finalize)
	}

	if mode == entity.CancelManual {
		g.metrics.CascadeRecorded(string(mode), "blocked")
		return blockedError(req.ID, live)
	}

	prepared := make([]*entity.LifecycleLink, 0, len(live))
	for _, l := range live {
		if err := g.gateway.PrepareCancel(ctx, l); err != nil {
			g.abort(ctx, req.ID, prepared)
			g.metrics.CascadeRecorded(string(mode), "aborted")
			return &apperr.CascadeAbortedError{RequestID: req.ID, LinkID: l.ID, ArtifactID: l.ArtifactID, Cause: err}
		}
		prepared = append(prepared, l)
	}

	err = g.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, l := range live {
			l.State = entity.ArtifactCancelled
			if err := g.links.Update(ctx, l); err != nil {
				return fmt.Errorf("failed to update link %d: %w", l.ID, err)
			}
		}
		return finalize(ctx)
	})
	if err != nil {
		g.abort(ctx, req.ID, prepared)
		g.metrics.CascadeRecorded(string(mode), "aborted")
		g.logger.Error("Cascade cancel rolled back", "request_id", req.ID, "error", err)
		return err
	}

	// The links are already cancelled; a failed commit notice is only logged.
	for _, l := range live {
		if err := g.gateway.CommitCancel(ctx, l); err != nil {
			g.logger.Error("Artifact cancel commit failed", "request_id", req.ID, "link_id", l.ID, "error", err)
		}
	}

	g.metrics.CascadeRecorded(string(mode), "completed")
	g.logger.Info("Cascade cancel completed", "request_id", req.ID, "artifacts", len(live))
	return nil
}

// abort releases every artifact that accepted the prepare phase
func (g *guardImpl) abort(ctx context.Context, requestID int64, prepared []*entity.LifecycleLink) {
	for _, l := range prepared {
		if err := g.gateway.AbortCancel(ctx, l); err != nil {
			g.logger.Error("Artifact cancel abort failed", "request_id", requestID, "link_id", l.ID, "error", err)
		}
	}
}

// TeardownOrder sorts links most-downstream first: deeper links along the
// upstream chain go first, settlements before invoices at equal depth, and
// newer links before older ones.
func TeardownOrder(links []*entity.LifecycleLink) []*entity.LifecycleLink {
	byID := make(map[int64]*entity.LifecycleLink, len(links))
	for _, l := range links {
		byID[l.ID] = l
	}

	depth := make(map[int64]int, len(links))
	for _, l := range links {
		depth[l.ID] = depthOf(l, byID)
	}

	out := append([]*entity.LifecycleLink(nil), links...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if depth[a.ID] != depth[b.ID] {
			return depth[a.ID] > depth[b.ID]
		}
		if kindRank(a.Kind) != kindRank(b.Kind) {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		return a.ID > b.ID
	})
	return out
}

func depthOf(l *entity.LifecycleLink, byID map[int64]*entity.LifecycleLink) int {
	d := 0
	seen := map[int64]bool{l.ID: true}
	for l.UpstreamLinkID != nil {
		up, ok := byID[*l.UpstreamLinkID]
		if !ok || seen[up.ID] {
			break
		}
		seen[up.ID] = true
		d++
		l = up
	}
	return d
}

func kindRank(k entity.ArtifactKind) int {
	if k == entity.ArtifactSettlement {
		return 0
	}
	return 1
}

func blockedError(requestID int64, live []*entity.LifecycleLink) *apperr.LifecycleBlockedError {
	blocking := make([]apperr.BlockingArtifact, len(live))
	order := make([]string, 0, len(live)+1)
	for i, l := range live {
		blocking[i] = apperr.BlockingArtifact{
			LinkID:     l.ID,
			Kind:       l.Kind,
			ArtifactID: l.ArtifactID,
			Name:       l.ArtifactName,
			State:      l.State,
		}
		order = append(order, describe(l))
	}
	order = append(order, fmt.Sprintf("request %d", requestID))

	return &apperr.LifecycleBlockedError{
		RequestID: requestID,
		Blocking:  blocking,
		Order:     order,
		Remedies: []string{
			"cancel " + strings.Join(order[:len(order)-1], ", then ") + ", then cancel the request",
			"retry with mode=cascade to cancel every listed artifact and the request in one step",
		},
	}
}

func describe(l *entity.LifecycleLink) string {
	name := l.ArtifactName
	if name == "" {
		name = l.ArtifactID
	}
	return fmt.Sprintf("%s %s", strings.ToLower(string(l.Kind)), name)
}
