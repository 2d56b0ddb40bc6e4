package badge

import (
	"context"

	"openbackpack.org/internal/obs"
)

// appendHistory pushes one append-only event. Failures are logged and
// swallowed: history is best effort and never fails issuance.
func (s *Service) appendHistory(ctx context.Context, ev HistoryEvent) {
	if _, err := s.store.Push(ctx, "history", ev); err != nil {
		obs.LogError("history", err)
	}
}
