package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to FindingStatus
		ok       bool
	}{
		{FindingStatusOpen, FindingStatusInvestigating, true},
		{FindingStatusOpen, FindingStatusResolved, true},
		{FindingStatusInvestigating, FindingStatusFalsePositive, true},
		{FindingStatusInvestigating, FindingStatusOpen, false},
		{FindingStatusResolved, FindingStatusInvestigating, false},
		{FindingStatusFalsePositive, FindingStatusResolved, false},
		{FindingStatusOpen, FindingStatusOpen, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestFindingTransitionStampsResolution(t *testing.T) {
	f := &Finding{Status: FindingStatusOpen}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.Transition(FindingStatusInvestigating, "soc-analyst", "", now))
	assert.Nil(t, f.ResolvedAt)

	require.NoError(t, f.Transition(FindingStatusResolved, "soc-analyst", "password reset", now))
	require.NotNil(t, f.ResolvedAt)
	assert.Equal(t, now, *f.ResolvedAt)
	assert.Equal(t, "soc-analyst", *f.ResolvedBy)
	assert.Equal(t, "password reset", *f.ResolutionNotes)

	err := f.Transition(FindingStatusOpen, "", "", now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestRiskLevelFor(t *testing.T) {
	assert.Equal(t, RiskLevelLow, RiskLevelFor(0))
	assert.Equal(t, RiskLevelLow, RiskLevelFor(39))
	assert.Equal(t, RiskLevelMedium, RiskLevelFor(40))
	assert.Equal(t, RiskLevelMedium, RiskLevelFor(59))
	assert.Equal(t, RiskLevelHigh, RiskLevelFor(60))
	assert.Equal(t, RiskLevelHigh, RiskLevelFor(79))
	assert.Equal(t, RiskLevelCritical, RiskLevelFor(80))
	assert.Equal(t, RiskLevelCritical, RiskLevelFor(100))
}
