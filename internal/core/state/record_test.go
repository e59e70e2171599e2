package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Transition Tests
// =============================================================================

func TestValidateTransition_AllowedPaths(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{"", StatusInstalling},
		{StatusInstalling, StatusInstalling},
		{StatusInstalling, StatusInstalled},
		{StatusInstalling, StatusFailed},
		{StatusInstalled, StatusUpdating},
		{StatusInstalled, StatusRemoving},
		{StatusUpdating, StatusUpdating},
		{StatusUpdating, StatusInstalled},
		{StatusUpdating, StatusFailed},
		{StatusRemoving, StatusRemoving},
		{StatusRemoving, StatusFailed},
		{StatusFailed, StatusInstalling},
		{StatusFailed, StatusUpdating},
		{StatusFailed, StatusRemoving},
	}
	for _, tc := range allowed {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_Rejected(t *testing.T) {
	rejected := []struct{ from, to Status }{
		{StatusInstalled, StatusInstalled},
		{StatusInstalled, StatusInstalling},
		{StatusInstalling, StatusUpdating},
		{StatusRemoving, StatusInstalled},
		{"", StatusInstalled},
	}
	for _, tc := range rejected {
		assert.ErrorIs(t, ValidateTransition(tc.from, tc.to), ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_UnknownStatus(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition("bogus", StatusInstalled), ErrInvalidTransition)
}

// =============================================================================
// Record Tests
// =============================================================================

func TestNewRecord(t *testing.T) {
	r := NewRecord("web", "prod-web", "production", testNow)

	assert.Equal(t, "web", r.Name)
	assert.Equal(t, "prod-web", r.Stack)
	assert.Equal(t, StatusInstalling, r.Status)
	assert.Equal(t, testNow, r.InstalledAt)
}

func TestRecord_CommitSetsLastKnownGood(t *testing.T) {
	r := NewRecord("web", "prod-web", "", testNow)
	vals := values.Values{"replicas": 2}

	err := r.Commit("1.2.0", vals, "abc123", []string{"db"}, testNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, StatusInstalled, r.Status)
	assert.Equal(t, "1.2.0", r.Version)
	assert.Equal(t, vals, r.Values)
	assert.Equal(t, "abc123", r.ManifestHash)
	assert.Equal(t, []string{"db"}, r.Dependencies)
	assert.Equal(t, testNow.Add(time.Minute), r.UpdatedAt)
}

func TestRecord_FailedUpdateKeepsPreviousState(t *testing.T) {
	r := NewRecord("web", "prod-web", "", testNow)
	require.NoError(t, r.Commit("1.0.0", values.Values{"a": 1}, "hash-1", nil, testNow))

	require.NoError(t, r.Transition(StatusUpdating, testNow))
	require.NoError(t, r.TransitionToFailed("apply failed", testNow))

	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "apply failed", r.ErrorMessage)
	assert.Equal(t, "1.0.0", r.Version, "last known good version retained")
	assert.Equal(t, "hash-1", r.ManifestHash)
}

func TestRecord_RetryAfterFailureClearsError(t *testing.T) {
	r := NewRecord("web", "prod-web", "", testNow)
	require.NoError(t, r.TransitionToFailed("boom", testNow))

	require.NoError(t, r.Transition(StatusInstalling, testNow))
	assert.Empty(t, r.ErrorMessage)
}

func TestRecord_TransitionToFailedFromInstalled(t *testing.T) {
	r := NewRecord("web", "prod-web", "", testNow)
	require.NoError(t, r.Commit("1.0.0", nil, "h", nil, testNow))

	err := r.TransitionToFailed("boom", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// =============================================================================
// StackName Tests
// =============================================================================

func TestStackName(t *testing.T) {
	assert.Equal(t, "prod-web", StackName("prod", "web"))
	assert.Equal(t, "web", StackName("", "web"))
}
