// Package artifact forwards cancellation of downstream documents to the
// collaborators that own them, over the event dispatcher.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/spend-approval/internal/application/dispatcher"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/event"
)

// ErrArtifactLocked is returned for a link the owning collaborator has locked
var ErrArtifactLocked = errors.New("artifact is locked")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Gateway implements port.ArtifactGateway over the dispatcher. The prepare
// event is published synchronously so any subscriber can veto it by
// returning an error. Commit and abort are notifications.
type Gateway struct {
	publisher dispatcher.Publisher
	logger    Logger
}

// NewGateway creates a gateway publishing through p
func NewGateway(p dispatcher.Publisher, logger Logger) *Gateway {
	return &Gateway{publisher: p, logger: logger}
}

var _ port.ArtifactGateway = (*Gateway)(nil)

func (g *Gateway) PrepareCancel(ctx context.Context, link *entity.LifecycleLink) error {
	if link.Locked {
		reason := link.LockReason
		if reason == "" {
			reason = "locked by owner"
		}
		return fmt.Errorf("%w: %s %s: %s", ErrArtifactLocked, link.Kind, link.ArtifactID, reason)
	}

	if err := g.publisher.Dispatch(ctx, linkEvent(event.TypeArtifactCancelRequest, link)); err != nil {
		g.logger.Error("Artifact cancel vetoed", "link_id", link.ID, "artifact_id", link.ArtifactID, "error", err)
		return fmt.Errorf("failed to prepare cancel of %s %s: %w", link.Kind, link.ArtifactID, err)
	}
	return nil
}

func (g *Gateway) CommitCancel(ctx context.Context, link *entity.LifecycleLink) error {
	if err := g.publisher.Dispatch(ctx, linkEvent(event.TypeArtifactCancelCommit, link)); err != nil {
		return fmt.Errorf("failed to commit cancel of %s %s: %w", link.Kind, link.ArtifactID, err)
	}
	g.logger.Info("Artifact cancelled", "link_id", link.ID, "artifact_id", link.ArtifactID, "kind", link.Kind)
	return nil
}

func (g *Gateway) AbortCancel(ctx context.Context, link *entity.LifecycleLink) error {
	if err := g.publisher.Dispatch(ctx, linkEvent(event.TypeArtifactCancelAborted, link)); err != nil {
		return fmt.Errorf("failed to abort cancel of %s %s: %w", link.Kind, link.ArtifactID, err)
	}
	g.logger.Info("Artifact cancel aborted", "link_id", link.ID, "artifact_id", link.ArtifactID)
	return nil
}

func linkEvent(t event.Type, link *entity.LifecycleLink) *event.Event {
	return event.NewEvent(t, link.RequestID, entity.SystemActor, map[string]interface{}{
		"link_id":       link.ID,
		"artifact_id":   link.ArtifactID,
		"artifact_kind": string(link.Kind),
		"artifact_name": link.ArtifactName,
	})
}
