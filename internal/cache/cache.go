package cache

import (
	"context"
	"fmt"

	"lumipos/backend/internal/domain"
)

// DraftCache mirrors open register sessions so an interrupted session can be
// reopened with its cart intact. Writes are last-write-wins; concurrent
// sessions on the same key overwrite each other without conflict detection.
type DraftCache interface {
	Save(ctx context.Context, tenantID string, register string, draft domain.CartDraft) error
	Load(ctx context.Context, tenantID string, register string) (*domain.CartDraft, bool, error)
	Delete(ctx context.Context, tenantID string, register string) error
}

func draftKey(tenantID string, register string) string {
	return fmt.Sprintf("cart-draft:%s:%s", tenantID, register)
}

// NoopDraftCache drops every write. Used when redis is not configured or
// unreachable; the session simply loses draft durability.
type NoopDraftCache struct{}

func (NoopDraftCache) Save(_ context.Context, _ string, _ string, _ domain.CartDraft) error {
	return nil
}

func (NoopDraftCache) Load(_ context.Context, _ string, _ string) (*domain.CartDraft, bool, error) {
	return nil, false, nil
}

func (NoopDraftCache) Delete(_ context.Context, _ string, _ string) error {
	return nil
}
