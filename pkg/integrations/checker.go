// Package integrations reports which of a tool's required integrations are
// connected for a user.
package integrations

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// AccountStore is the external account/integration store this package
// consults. Implementations typically back onto OAuth token storage.
type AccountStore interface {
	IsIntegrationConnected(ctx context.Context, userID, integrationID string) (bool, error)
}

// Checker batch-checks integration availability before a tool executes
type Checker struct {
	accounts AccountStore
	logger   zerolog.Logger
}

// NewChecker creates a checker backed by the given account store
func NewChecker(accounts AccountStore, logger zerolog.Logger) *Checker {
	return &Checker{
		accounts: accounts,
		logger:   logger,
	}
}

// Missing returns the subset of required integration ids that are not
// connected for the user, sorted for stable output. An empty required set
// always returns no missing integrations without touching the store.
func (c *Checker) Missing(ctx context.Context, userID string, required []string) ([]string, error) {
	if len(required) == 0 {
		return nil, nil
	}

	missing := []string{}
	for _, id := range required {
		connected, err := c.accounts.IsIntegrationConnected(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to check integration %s: %w", id, err)
		}
		if !connected {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		c.logger.Warn().
			Str("user_id", userID).
			Strs("missing", missing).
			Msg("Required integrations not connected")
	}

	return missing, nil
}

// Guidance returns a short connection hint for a missing integration
func Guidance(integrationID string) string {
	return fmt.Sprintf("Connect your %s integration in settings to use this tool", integrationID)
}

// StaticAccounts is an AccountStore backed by a fixed map, used in tests and
// local setups. Keys are "userID/integrationID".
type StaticAccounts map[string]bool

// IsIntegrationConnected implements AccountStore
func (s StaticAccounts) IsIntegrationConnected(_ context.Context, userID, integrationID string) (bool, error) {
	return s[userID+"/"+integrationID], nil
}
