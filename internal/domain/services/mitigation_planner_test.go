package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func assertSortedByPriority(t *testing.T, actions []models.MitigationAction) {
	t.Helper()
	for i := 1; i < len(actions); i++ {
		assert.LessOrEqual(t, actions[i-1].Priority, actions[i].Priority)
	}
}

func TestPlanMitigations_CriticalEscalatesFirst(t *testing.T) {
	p := NewMitigationPlanner(logger.Nop())
	techniques := []models.TechniqueMapping{
		{TechniqueID: "T1530", Confidence: 0.6},
		{TechniqueID: "T1048", Confidence: 0.9},
		{TechniqueID: "T1078", Confidence: 0.4},
	}

	actions := p.PlanMitigations(CategorySensitiveFiles, models.RiskLevelCritical, techniques)
	require.NotEmpty(t, actions)
	assert.Equal(t, "Escalate to security team", actions[0].Action)
	assert.Equal(t, models.ActionImmediate, actions[0].Category)
	assertSortedByPriority(t, actions)

	names := make([]string, len(actions))
	seen := make(map[uuid.UUID]bool)
	for i, a := range actions {
		names[i] = a.Action
		assert.NotEqual(t, uuid.Nil, a.ID)
		assert.False(t, seen[a.ID])
		seen[a.ID] = true
		assert.False(t, a.Implemented)
	}
	// the two most confident techniques contribute actions
	assert.Contains(t, names, "Monitor data transfers")
	assert.Contains(t, names, "Audit cloud access")
	assert.NotContains(t, names, "Implement MFA")
	// escalation + four category actions + two technique actions
	assert.Len(t, actions, 7)
}

func TestPlanMitigations_HighAlerts(t *testing.T) {
	p := NewMitigationPlanner(logger.Nop())
	actions := p.PlanMitigations(CategoryFailedLogin, models.RiskLevelHigh, nil)
	require.NotEmpty(t, actions)
	assert.Equal(t, "Alert security team", actions[0].Action)
	assertSortedByPriority(t, actions)
}

func TestPlanMitigations_UnknownCategoryUsesDefaults(t *testing.T) {
	p := NewMitigationPlanner(logger.Nop())
	actions := p.PlanMitigations(CategoryBehavioral, models.RiskLevelMedium, nil)
	require.Len(t, actions, 3)
	assert.Equal(t, "Investigate anomaly", actions[0].Action)
	assert.Equal(t, models.ActionShortTerm, actions[2].Category)
}

func TestPlanMitigations_ResourceAbuse(t *testing.T) {
	p := NewMitigationPlanner(logger.Nop())
	actions := p.PlanMitigations(CategoryHighCPUUsage, models.RiskLevelHigh,
		[]models.TechniqueMapping{{TechniqueID: "T1496", Confidence: 0.55}})
	assertSortedByPriority(t, actions)

	var names []string
	for _, a := range actions {
		names = append(names, a.Action)
	}
	assert.Contains(t, names, "Isolate and Clean")
	assert.Contains(t, names, "Investigate running processes")
}

func TestComplianceCitations(t *testing.T) {
	p := NewMitigationPlanner(logger.Nop())

	c := p.ComplianceCitations(CategoryPrivilegeEscalate)
	require.Len(t, c, 3)
	assert.Contains(t, c[0], "PCI DSS")

	d := p.ComplianceCitations("night_activity")
	assert.Equal(t, []string{"Document incident in security log", "Review against organizational security policies"}, d)

	// callers get their own copy
	d[0] = "changed"
	assert.Equal(t, "Document incident in security log", p.ComplianceCitations("night_activity")[0])
}
