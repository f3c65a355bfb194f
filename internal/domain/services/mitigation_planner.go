package services

import (
	"sort"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// actionTemplate is a mitigation step before it is bound to a finding
type actionTemplate struct {
	Priority    int
	Category    models.ActionCategory
	Action      string
	Description string
}

var (
	escalateAction = actionTemplate{1, models.ActionImmediate, "Escalate to security team",
		"CRITICAL: Immediately notify security operations center"}
	alertAction = actionTemplate{1, models.ActionImmediate, "Alert security team",
		"HIGH RISK: Notify security team for immediate review"}
	policyEnforcementAction = actionTemplate{1, models.ActionImmediate, "Enforce policy and suspend access",
		"Suspend the account's access and enforce the violated policy pending security review"}
)

var defaultMitigations = []actionTemplate{
	{1, models.ActionImmediate, "Investigate anomaly", "Review the detected anomaly and gather more context"},
	{2, models.ActionImmediate, "Contact employee", "Verify the unusual behavior with the employee"},
	{3, models.ActionShortTerm, "Monitor account", "Enable enhanced monitoring for this employee account"},
}

var mitigationTemplates = map[string][]actionTemplate{
	CategoryUnusualLoginTime: {
		{1, models.ActionImmediate, "Verify employee activity", "Contact employee to confirm the login was legitimate"},
		{2, models.ActionImmediate, "Review access logs", "Check all activities performed during the unusual login session"},
		{3, models.ActionShortTerm, "Enable MFA alerts", "Configure alerts for logins outside normal hours"},
	},
	CategoryLocationVariance: {
		{1, models.ActionImmediate, "Verify location", "Confirm employee is traveling or working from new location"},
		{2, models.ActionImmediate, "Check for VPN usage", "Verify if location change is due to VPN or proxy"},
		{3, models.ActionShortTerm, "Implement geo-fencing", "Set up alerts for logins from unexpected geographic locations"},
	},
	"unusual_port": {
		{1, models.ActionImmediate, "Block suspicious port", "Temporarily block the unusual port pending investigation"},
		{2, models.ActionImmediate, "Analyze network traffic", "Review all traffic on the unusual port for malicious activity"},
		{3, models.ActionShortTerm, "Update firewall rules", "Restrict port access to authorized users only"},
	},
	CategorySensitiveFiles: {
		{1, models.ActionImmediate, "Review file access", "Audit which sensitive files were accessed and why"},
		{1, models.ActionImmediate, "Check for data exfiltration", "Monitor for unusual data transfers or downloads"},
		{2, models.ActionShortTerm, "Restrict file permissions", "Review and tighten access controls on sensitive files"},
		{3, models.ActionLongTerm, "Implement DLP", "Deploy Data Loss Prevention tools to monitor sensitive data"},
	},
	CategoryPrivilegeEscalate: {
		{1, models.ActionImmediate, "Suspend elevated privileges", "Temporarily revoke sudo/admin access pending investigation"},
		{1, models.ActionImmediate, "Review privilege usage", "Audit all commands executed with elevated privileges"},
		{2, models.ActionShortTerm, "Implement privilege monitoring", "Set up real-time alerts for privilege escalation attempts"},
		{3, models.ActionLongTerm, "Apply least privilege principle", "Review and minimize privilege assignments across organization"},
	},
	"firewall_change": {
		{1, models.ActionImmediate, "Revert firewall changes", "Roll back unauthorized firewall rule modifications"},
		{1, models.ActionImmediate, "Investigate change reason", "Determine why firewall rules were modified"},
		{2, models.ActionShortTerm, "Restrict firewall access", "Limit firewall configuration access to security team only"},
		{3, models.ActionLongTerm, "Implement change management", "Require approval workflow for all firewall changes"},
	},
	CategoryFailedLogin: {
		{1, models.ActionImmediate, "Lock account temporarily", "Prevent further login attempts to protect account"},
		{2, models.ActionImmediate, "Contact employee", "Verify if employee is having login issues or if account is compromised"},
		{2, models.ActionShortTerm, "Force password reset", "Require employee to reset password with strong requirements"},
		{3, models.ActionShortTerm, "Enable account monitoring", "Set up enhanced monitoring for this account"},
	},
	"network_activity": {
		{1, models.ActionImmediate, "Analyze traffic patterns", "Review network logs for signs of data exfiltration"},
		{2, models.ActionImmediate, "Check for malware", "Scan employee workstation for malware or backdoors"},
		{3, models.ActionShortTerm, "Implement bandwidth limits", "Set reasonable bandwidth limits for user accounts"},
	},
	"night_activity": {
		{1, models.ActionImmediate, "Verify employee activity", "Confirm if employee was working late or if account is compromised"},
		{2, models.ActionShortTerm, "Review activities performed", "Audit all actions taken during off-hours"},
		{3, models.ActionShortTerm, "Set up off-hours alerts", "Configure notifications for activity outside business hours"},
	},
	CategoryHighCPUUsage: {
		{1, models.ActionImmediate, "Investigate running processes", "Identify processes consuming high CPU (potential crypto miner)"},
		{2, models.ActionImmediate, "Scan for malware", "Run deep system scan for resource hijacking malware"},
		{3, models.ActionShortTerm, "Kill suspicious process", "Terminate any unauthorized high-resource processes"},
	},
	CategoryHighMemoryUsage: {
		{1, models.ActionImmediate, "Check for memory leaks/bloat", "Identify applications using excessive memory"},
		{2, models.ActionImmediate, "Scan for memory-resident malware", "Check for malware injecting into legitimate processes"},
	},
}

// techniqueMitigations adds one action per mapped technique; not every technique has one
var techniqueMitigations = map[string]actionTemplate{
	"T1078": {2, models.ActionShortTerm, "Implement MFA", "Enable multi-factor authentication to prevent credential abuse"},
	"T1021": {2, models.ActionShortTerm, "Restrict remote access", "Limit remote service access to authorized users and IPs"},
	"T1068": {1, models.ActionImmediate, "Patch vulnerabilities", "Apply security patches to prevent privilege escalation exploits"},
	"T1048": {1, models.ActionImmediate, "Monitor data transfers", "Implement network monitoring to detect data exfiltration"},
	"T1562": {1, models.ActionImmediate, "Restore security controls", "Re-enable any disabled security mechanisms"},
	"T1530": {2, models.ActionShortTerm, "Audit cloud access", "Review and restrict cloud storage access permissions"},
	"T1496": {1, models.ActionImmediate, "Isolate and Clean", "Disconnect from network and remove crypto-mining malware"},
}

var complianceCitations = map[string][]string{
	CategorySensitiveFiles: {
		"Document incident per GDPR Article 33 (breach notification)",
		"Review compliance with SOC 2 access controls",
		"Ensure HIPAA audit trail requirements are met",
	},
	CategoryPrivilegeEscalate: {
		"Review against PCI DSS requirement 7 (access control)",
		"Document for SOC 2 CC6.1 (logical access controls)",
		"Verify compliance with ISO 27001 A.9.2.3",
	},
	CategoryFailedLogin: {
		"Check NIST 800-53 AC-7 (unsuccessful login attempts)",
		"Review against CIS Controls 16.11",
		"Document per SOC 2 CC6.1",
	},
}

var defaultCompliance = []string{
	"Document incident in security log",
	"Review against organizational security policies",
}

// maxTechniqueActions is how many top mappings contribute a technique-specific action
const maxTechniqueActions = 2

// MitigationPlanner turns a categorized, mapped finding into ordered response actions
type MitigationPlanner struct {
	logger *logger.Logger
}

// NewMitigationPlanner creates a new planner
func NewMitigationPlanner(log *logger.Logger) *MitigationPlanner {
	return &MitigationPlanner{logger: log.WithComponent("mitigation-planner")}
}

// PlanMitigations builds the action list sorted by ascending priority
func (p *MitigationPlanner) PlanMitigations(category string, level models.RiskLevel, techniques []models.TechniqueMapping) []models.MitigationAction {
	base, ok := mitigationTemplates[category]
	if !ok {
		base = defaultMitigations
	}

	plan := make([]actionTemplate, 0, len(base)+1+maxTechniqueActions)
	switch level {
	case models.RiskLevelCritical:
		plan = append(plan, escalateAction)
	case models.RiskLevelHigh:
		plan = append(plan, alertAction)
	}
	plan = append(plan, base...)

	ranked := append([]models.TechniqueMapping(nil), techniques...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	for i := 0; i < len(ranked) && i < maxTechniqueActions; i++ {
		if a, ok := techniqueMitigations[ranked[i].TechniqueID]; ok {
			plan = append(plan, a)
		}
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Priority < plan[j].Priority
	})

	p.logger.Debug().
		Str("category", category).
		Str("risk_level", string(level)).
		Int("actions", len(plan)).
		Msg("planned mitigations")

	return bindActions(plan)
}

// ComplianceCitations returns audit framework references for a category
func (p *MitigationPlanner) ComplianceCitations(category string) []string {
	if c, ok := complianceCitations[category]; ok {
		return append([]string(nil), c...)
	}
	return append([]string(nil), defaultCompliance...)
}

func bindActions(plan []actionTemplate) []models.MitigationAction {
	out := make([]models.MitigationAction, len(plan))
	for i, a := range plan {
		out[i] = models.MitigationAction{
			ID:          uuid.New(),
			Priority:    a.Priority,
			Category:    a.Category,
			Action:      a.Action,
			Description: a.Description,
		}
	}
	return out
}
