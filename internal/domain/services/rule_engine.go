package services

import (
	"fmt"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
)

// Rule names
const (
	RulePolicyViolation = "policy_violation"
	RuleResourceAbuse   = "resource_abuse"
)

const (
	policyViolationRisk = 100
	resourceAbuseRisk   = 75
)

// policyViolationTechnique is the single mapping attached to policy violations
var policyViolationTechnique = models.TechniqueMapping{
	TechniqueID:   "T1078",
	TechniqueName: "Valid Accounts",
	Tactic:        "Initial Access / Persistence",
	Description:   "Adversaries may obtain and abuse credentials of existing accounts",
	Confidence:    1.0,
}

// RuleMatch is a deterministic detection that skips the anomaly model.
// When Techniques or Actions are set they are final; otherwise the mapper and planner fill them.
type RuleMatch struct {
	Rule        string
	Category    string
	RiskScore   int
	RiskLevel   models.RiskLevel
	Description string
	Techniques  []models.TechniqueMapping
	Actions     []models.MitigationAction
}

// RuleEngine evaluates per-event rules ahead of statistical scoring
type RuleEngine struct {
	cpuThreshold    float64
	memoryThreshold float64
}

// NewRuleEngine creates a rule engine; non-positive thresholds disable the resource rule for that metric
func NewRuleEngine(cpuThreshold, memoryThreshold float64) *RuleEngine {
	return &RuleEngine{cpuThreshold: cpuThreshold, memoryThreshold: memoryThreshold}
}

// Evaluate returns the first rule the event trips
func (r *RuleEngine) Evaluate(ev *models.Event, subject string) (*RuleMatch, bool) {
	if ev == nil {
		return nil, false
	}

	if ev.Type.Normalize() == models.EventTypePolicyViolation {
		detail := ""
		if ev.Action != nil && *ev.Action != "" {
			detail = fmt.Sprintf(" (%s)", *ev.Action)
		}
		technique := policyViolationTechnique
		technique.ID = uuid.New()
		return &RuleMatch{
			Rule:        RulePolicyViolation,
			Category:    CategoryPolicyViolation,
			RiskScore:   policyViolationRisk,
			RiskLevel:   models.RiskLevelCritical,
			Description: fmt.Sprintf("Policy violation reported for %s%s", subject, detail),
			Techniques:  []models.TechniqueMapping{technique},
			Actions:     bindActions([]actionTemplate{policyEnforcementAction}),
		}, true
	}

	if r.cpuThreshold > 0 && ev.CPUUsage != nil && *ev.CPUUsage >= r.cpuThreshold {
		return &RuleMatch{
			Rule:        RuleResourceAbuse,
			Category:    CategoryHighCPUUsage,
			RiskScore:   resourceAbuseRisk,
			RiskLevel:   models.RiskLevelFor(resourceAbuseRisk),
			Description: fmt.Sprintf("%s sustained %.1f%% CPU usage (possible resource hijacking)", subject, *ev.CPUUsage),
		}, true
	}

	if r.memoryThreshold > 0 && ev.MemoryUsage != nil && *ev.MemoryUsage >= r.memoryThreshold {
		return &RuleMatch{
			Rule:        RuleResourceAbuse,
			Category:    CategoryHighMemoryUsage,
			RiskScore:   resourceAbuseRisk,
			RiskLevel:   models.RiskLevelFor(resourceAbuseRisk),
			Description: fmt.Sprintf("%s sustained %.1f%% memory usage", subject, *ev.MemoryUsage),
		}, true
	}

	return nil, false
}
