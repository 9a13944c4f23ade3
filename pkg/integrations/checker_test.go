package integrations

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCheckerMissing tests that only unconnected integrations are reported,
// sorted
func TestCheckerMissing(t *testing.T) {
	accounts := StaticAccounts{
		"user-1/google_calendar": true,
	}
	checker := NewChecker(accounts, zerolog.Nop())

	missing, err := checker.Missing(context.Background(), "user-1",
		[]string{"gmail", "google_calendar", "google_contacts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail", "google_contacts"}, missing)
}

// TestCheckerMissing_AllConnected tests the happy path
func TestCheckerMissing_AllConnected(t *testing.T) {
	accounts := StaticAccounts{
		"user-1/gmail":           true,
		"user-1/google_calendar": true,
	}
	checker := NewChecker(accounts, zerolog.Nop())

	missing, err := checker.Missing(context.Background(), "user-1",
		[]string{"gmail", "google_calendar"})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

// TestCheckerMissing_NoneRequired tests that an empty requirement set skips
// the store entirely
func TestCheckerMissing_NoneRequired(t *testing.T) {
	checker := NewChecker(failingAccounts{}, zerolog.Nop())

	missing, err := checker.Missing(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestCheckerMissing_StoreError tests error propagation from the account store
func TestCheckerMissing_StoreError(t *testing.T) {
	checker := NewChecker(failingAccounts{}, zerolog.Nop())

	_, err := checker.Missing(context.Background(), "user-1", []string{"gmail"})
	assert.Error(t, err)
}

// TestGuidance tests the connection hint format
func TestGuidance(t *testing.T) {
	hint := Guidance("gmail")
	assert.Contains(t, hint, "gmail")
	assert.Contains(t, hint, "Connect")
}

type failingAccounts struct{}

func (failingAccounts) IsIntegrationConnected(_ context.Context, _, _ string) (bool, error) {
	return false, errors.New("token store unavailable")
}
