package services

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// Category labels used across mapping and planning
const (
	CategoryUnknown           = "unknown"
	CategoryBehavioral        = "behavioral_anomaly"
	CategoryPolicyViolation   = "policy_violation"
	CategoryHighCPUUsage      = "high_cpu_usage"
	CategoryHighMemoryUsage   = "high_memory_usage"
	CategoryUnusualLoginTime  = "unusual_login_time"
	CategoryLocationVariance  = "location_variance"
	CategorySensitiveFiles    = "sensitive_file_access"
	CategoryPrivilegeEscalate = "privilege_escalation"
	CategoryFailedLogin       = "failed_login"
)

// DefaultTechniqueCatalog is the built-in technique table; order breaks confidence ties
var DefaultTechniqueCatalog = models.TechniqueCatalog{Techniques: []models.Technique{
	{
		ID: "T1078", Name: "Valid Accounts", Tactic: "Initial Access / Persistence",
		Description: "Adversaries may obtain and abuse credentials of existing accounts",
		Indicators:  []string{"unusual_login", "failed_login", "night_activity", "location_variance"},
	},
	{
		ID: "T1021", Name: "Remote Services", Tactic: "Lateral Movement",
		Description: "Adversaries may use valid accounts to log into a service",
		Indicators:  []string{"unusual_port", "network_activity", "unique_ports"},
	},
	{
		ID: "T1068", Name: "Exploitation for Privilege Escalation", Tactic: "Privilege Escalation",
		Description: "Adversaries may exploit software vulnerabilities to elevate privileges",
		Indicators:  []string{"privilege_escalation", "unusual_sudo"},
	},
	{
		ID: "T1048", Name: "Exfiltration Over Alternative Protocol", Tactic: "Exfiltration",
		Description: "Adversaries may steal data by exfiltrating it over a different protocol",
		Indicators:  []string{"unusual_port", "network_activity", "large_transfer"},
	},
	{
		ID: "T1562", Name: "Impair Defenses", Tactic: "Defense Evasion",
		Description: "Adversaries may maliciously modify components to impair defenses",
		Indicators:  []string{"firewall_change", "security_config"},
	},
	{
		ID: "T1530", Name: "Data from Cloud Storage", Tactic: "Collection",
		Description: "Adversaries may access data from cloud storage",
		Indicators:  []string{"sensitive_file_access", "unusual_file_access", "bulk_download"},
	},
	{
		ID: "T1110", Name: "Brute Force", Tactic: "Credential Access",
		Description: "Adversaries may use brute force techniques to gain access",
		Indicators:  []string{"failed_login", "multiple_login_attempts"},
	},
	{
		ID: "T1098", Name: "Account Manipulation", Tactic: "Persistence",
		Description: "Adversaries may manipulate accounts to maintain access",
		Indicators:  []string{"privilege_escalation", "account_modification"},
	},
	{
		ID: "T1496", Name: "Resource Hijacking", Tactic: "Impact",
		Description: "Adversaries may leverage the resources of co-opted systems to complete resource-intensive tasks",
		Indicators:  []string{"high_cpu_usage", "high_memory_usage", "crypto_mining"},
	},
}}

// featureCategories maps the top attributed feature onto a finding category
var featureCategories = map[string]string{
	models.FeatureAvgLoginHour:            CategoryUnusualLoginTime,
	models.FeatureLoginHourStd:            "unusual_login_pattern",
	models.FeatureUniqueLocationsCount:    "unusual_location",
	models.FeatureAvgLocationDistance:     CategoryLocationVariance,
	models.FeatureUniquePortsCount:        "unusual_port_usage",
	models.FeatureAvgPortNumber:           "unusual_port",
	models.FeatureFileAccessRate:          "unusual_file_access",
	models.FeatureSensitiveFileAccessRate: CategorySensitiveFiles,
	models.FeaturePrivilegeEscalationRate: CategoryPrivilegeEscalate,
	models.FeatureFirewallChangeRate:      "firewall_change",
	models.FeatureNetworkActivityVolume:   "network_activity",
	models.FeatureFailedLoginRate:         CategoryFailedLogin,
	models.FeatureWeekdayActivityRatio:    "unusual_schedule",
	models.FeatureNightActivityRatio:      "night_activity",
}

// categoryDescriptions render a finding sentence from the subject name and top feature value
var categoryDescriptions = map[string]func(name string, v float64) string{
	CategoryUnusualLoginTime: func(n string, v float64) string {
		return fmt.Sprintf("%s logged in at an unusual time (%.1f:00)", n, v)
	},
	"unusual_login_pattern": func(n string, v float64) string {
		return fmt.Sprintf("%s shows irregular login patterns (std: %.2f)", n, v)
	},
	"unusual_location": func(n string, v float64) string {
		return fmt.Sprintf("%s accessed from %d different locations", n, int(v))
	},
	CategoryLocationVariance: func(n string, v float64) string {
		return fmt.Sprintf("%s accessed from unusual location (%.1f%% deviation)", n, v*100)
	},
	"unusual_port_usage": func(n string, v float64) string {
		return fmt.Sprintf("%s accessed %d unusual ports", n, int(v))
	},
	"unusual_port": func(n string, v float64) string {
		return fmt.Sprintf("%s used unusual port %d", n, int(v))
	},
	"unusual_file_access": func(n string, v float64) string {
		return fmt.Sprintf("%s accessed %.1f files/day (unusual volume)", n, v)
	},
	CategorySensitiveFiles: func(n string, v float64) string {
		return fmt.Sprintf("%s accessed %.2f sensitive files/day", n, v)
	},
	CategoryPrivilegeEscalate: func(n string, v float64) string {
		return fmt.Sprintf("%s performed %.2f privilege escalations/day", n, v)
	},
	"firewall_change": func(n string, v float64) string {
		return fmt.Sprintf("%s made %.2f firewall changes/week", n, v)
	},
	"network_activity": func(n string, v float64) string {
		return fmt.Sprintf("%s generated %.1f network events/day", n, v)
	},
	CategoryFailedLogin: func(n string, v float64) string {
		return fmt.Sprintf("%s had %.2f failed logins/day", n, v)
	},
	"unusual_schedule": func(n string, v float64) string {
		return fmt.Sprintf("%s shows unusual work schedule (%.1f%% weekday activity)", n, v*100)
	},
	"night_activity": func(n string, v float64) string {
		return fmt.Sprintf("%s shows %.1f%% night activity (unusual)", n, v*100)
	},
}

// MapperWeights are the tunable terms of technique confidence
type MapperWeights struct {
	Category float64 // awarded once when the category contains any indicator
	Features float64 // scaled by matched indicators / total indicators
	Risk     float64 // scaled by risk score / 100
	MinScore float64 // mappings must score strictly above this
}

// DefaultMapperWeights returns 0.4 / 0.4 / 0.2 with a 0.3 cutoff
func DefaultMapperWeights() MapperWeights {
	return MapperWeights{Category: 0.4, Features: 0.4, Risk: 0.2, MinScore: 0.3}
}

// TechniqueMapper maps attributed features and categories to catalog techniques
type TechniqueMapper struct {
	catalog models.TechniqueCatalog
	weights MapperWeights
	logger  *logger.Logger
}

// NewTechniqueMapper creates a mapper over the given catalog
func NewTechniqueMapper(catalog models.TechniqueCatalog, weights MapperWeights, log *logger.Logger) *TechniqueMapper {
	return &TechniqueMapper{
		catalog: catalog,
		weights: weights,
		logger:  log.WithComponent("technique-mapper"),
	}
}

// LoadTechniqueCatalog reads a YAML catalog override; an empty path yields the built-in catalog
func LoadTechniqueCatalog(path string) (models.TechniqueCatalog, error) {
	if path == "" {
		return DefaultTechniqueCatalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.TechniqueCatalog{}, fmt.Errorf("failed to read technique catalog: %w", err)
	}
	var catalog models.TechniqueCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return models.TechniqueCatalog{}, fmt.Errorf("failed to parse technique catalog: %w", err)
	}
	seen := make(map[string]bool, len(catalog.Techniques))
	for _, t := range catalog.Techniques {
		if t.ID == "" || len(t.Indicators) == 0 {
			return models.TechniqueCatalog{}, fmt.Errorf("technique %q needs an id and indicators", t.ID)
		}
		if seen[t.ID] {
			return models.TechniqueCatalog{}, fmt.Errorf("duplicate technique %q", t.ID)
		}
		seen[t.ID] = true
	}
	return catalog, nil
}

// Catalog returns the techniques the mapper scores against
func (m *TechniqueMapper) Catalog() models.TechniqueCatalog {
	return m.catalog
}

// MapTechniques returns techniques scoring above the cutoff, highest confidence first
func (m *TechniqueMapper) MapTechniques(category string, topFeatures []models.AttributedFeature, riskScore int) []models.TechniqueMapping {
	names := make([]string, len(topFeatures))
	for i, f := range topFeatures {
		names[i] = f.Feature
	}

	var mappings []models.TechniqueMapping
	for _, t := range m.catalog.Techniques {
		confidence := m.confidence(category, names, t.Indicators, riskScore)
		if confidence <= m.weights.MinScore {
			continue
		}
		mappings = append(mappings, models.TechniqueMapping{
			ID:            uuid.New(),
			TechniqueID:   t.ID,
			TechniqueName: t.Name,
			Tactic:        t.Tactic,
			Description:   t.Description,
			Confidence:    confidence,
		})
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Confidence > mappings[j].Confidence
	})

	m.logger.Debug().
		Str("category", category).
		Int("risk_score", riskScore).
		Int("mapped", len(mappings)).
		Msg("mapped techniques")

	return mappings
}

func (m *TechniqueMapper) confidence(category string, features, indicators []string, riskScore int) float64 {
	confidence := 0.0

	for _, ind := range indicators {
		if strings.Contains(category, ind) {
			confidence += m.weights.Category
			break
		}
	}

	matches := 0
	for _, f := range features {
		for _, ind := range indicators {
			if strings.Contains(f, ind) || strings.Contains(ind, f) {
				matches++
				break
			}
		}
	}
	if len(indicators) > 0 {
		confidence += m.weights.Features * float64(matches) / float64(len(indicators))
	}

	confidence += m.weights.Risk * float64(riskScore) / 100
	return min(confidence, 1.0)
}

// DetermineCategory derives a category from the highest-ranked attributed feature
func DetermineCategory(topFeatures []models.AttributedFeature) string {
	if len(topFeatures) == 0 {
		return CategoryUnknown
	}
	if c, ok := featureCategories[topFeatures[0].Feature]; ok {
		return c
	}
	return CategoryBehavioral
}

// Describe renders a one-sentence finding description for the subject
func Describe(category string, topFeatures []models.AttributedFeature, subject string) string {
	if len(topFeatures) == 0 {
		return fmt.Sprintf("Unusual behavioral pattern detected for %s", subject)
	}
	top := topFeatures[0]
	if render, ok := categoryDescriptions[category]; ok {
		return render(subject, top.Value)
	}
	display := top.DisplayName
	if display == "" {
		display = FeatureDisplayName(top.Feature)
	}
	return fmt.Sprintf("Unusual %s detected for %s", display, subject)
}
