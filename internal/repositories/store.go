package repositories

import (
	"fmt"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// checkLoginMeta rejects updates that would break the counter invariant.
// The counter only grows through IncrementFailedLoginCount, so a meta write
// may only reset it.
func checkLoginMeta(meta models.LoginMeta) error {
	if meta.FailedLoginCount != 0 {
		return fmt.Errorf("failed login count can only be reset to 0, got %d: %w", meta.FailedLoginCount, models.ErrBadRequest)
	}
	return nil
}
