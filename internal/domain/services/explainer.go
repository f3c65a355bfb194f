package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// MaxTopFeatures bounds the ranked attribution list
const MaxTopFeatures = 5

// riskDirection says which side of the normal reference raises risk
type riskDirection int

const (
	riskAbove riskDirection = iota
	riskEitherSide
)

// featureText is the display name and sentence template of one feature
type featureText struct {
	display  string
	sentence func(v float64, impact models.Impact) string
}

var featureTexts = map[string]featureText{
	models.FeatureAvgLoginHour: {"Average Login Hour", func(v float64, i models.Impact) string {
		return fmt.Sprintf("Login at %.1f:00 %s anomaly risk", v, i)
	}},
	models.FeatureLoginHourStd: {"Login Time Variability", func(v float64, i models.Impact) string {
		return fmt.Sprintf("Login time variability of %.2f hours %s risk", v, i)
	}},
	models.FeatureUniqueLocationsCount: {"Unique Locations", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%d unique locations %s risk", int(v), i)
	}},
	models.FeatureAvgLocationDistance: {"Location Deviation", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.2f%% location deviation %s risk", v*100, i)
	}},
	models.FeatureUniquePortsCount: {"Unique Ports", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%d unique ports accessed %s risk", int(v), i)
	}},
	models.FeatureAvgPortNumber: {"Average Port Number", func(v float64, i models.Impact) string {
		return fmt.Sprintf("Average port %d %s risk", int(v), i)
	}},
	models.FeatureFileAccessRate: {"File Access Rate", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.1f files/day %s risk", v, i)
	}},
	models.FeatureSensitiveFileAccessRate: {"Sensitive File Access", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.2f sensitive files/day %s risk", v, i)
	}},
	models.FeaturePrivilegeEscalationRate: {"Privilege Escalation Rate", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.2f privilege escalations/day %s risk", v, i)
	}},
	models.FeatureFirewallChangeRate: {"Firewall Changes", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.2f firewall changes/week %s risk", v, i)
	}},
	models.FeatureNetworkActivityVolume: {"Network Activity", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.1f network events/day %s risk", v, i)
	}},
	models.FeatureFailedLoginRate: {"Failed Login Rate", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.2f failed logins/day %s risk", v, i)
	}},
	models.FeatureWeekdayActivityRatio: {"Weekday Activity Ratio", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.1f%% weekday activity %s risk", v*100, i)
	}},
	models.FeatureNightActivityRatio: {"Night Activity Ratio", func(v float64, i models.Impact) string {
		return fmt.Sprintf("%.1f%% night activity %s risk", v*100, i)
	}},
}

// featureRiskDirection lists features that are not simply riskier when higher
var featureRiskDirection = map[string]riskDirection{
	models.FeatureAvgLoginHour: riskEitherSide,
}

// FeatureDisplayName returns the human-readable feature name
func FeatureDisplayName(name string) string {
	if t, ok := featureTexts[name]; ok {
		return t.display
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// DescribeFeature renders the sentence for a feature's contribution
func DescribeFeature(name string, value float64, impact models.Impact) string {
	if t, ok := featureTexts[name]; ok {
		return t.sentence(value, impact)
	}
	return fmt.Sprintf("%s: %.2f %s risk", name, value, impact)
}

// Explainer attributes an anomaly score to individual features
type Explainer struct {
	handle        *ModelHandle
	forceFallback bool
	logger        *logger.Logger
}

// NewExplainer creates an explainer over the shared model handle
func NewExplainer(handle *ModelHandle, forceFallback bool, log *logger.Logger) *Explainer {
	return &Explainer{
		handle:        handle,
		forceFallback: forceFallback,
		logger:        log.WithComponent("explainer"),
	}
}

// Explain returns per-feature contributions and the top ranked features.
// Tree attribution failures fall back to the reference-deviation heuristic.
func (e *Explainer) Explain(fp models.Fingerprint) (*models.Explanation, error) {
	m := e.handle.Current()
	if m == nil {
		return nil, models.ErrModelNotTrained
	}
	if e.forceFallback {
		return HeuristicExplanation(fp), nil
	}

	contribs, err := treeContributions(m, fp)
	if err != nil {
		if !errors.Is(err, models.ErrAttributionUnavailable) {
			e.logger.Warn().Err(err).Msg("unexpected attribution error")
		}
		e.logger.Debug().Err(err).Msg("tree attribution unavailable, using heuristic")
		return HeuristicExplanation(fp), nil
	}
	return rankContributions(fp, contribs, models.AttributionTreeSHAP), nil
}

// treeContributions negates path-length Shapley values so that positive means more anomalous
func treeContributions(m *AnomalyModel, fp models.Fingerprint) (contribs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", models.ErrAttributionUnavailable, r)
		}
	}()
	if m.Scaler == nil || m.Scorer == nil {
		return nil, fmt.Errorf("%w: artifact incomplete", models.ErrAttributionUnavailable)
	}
	phi, err := m.Scorer.TreeSHAP(m.Scaler.Transform(fp.Vector()))
	if err != nil {
		return nil, err
	}
	for i := range phi {
		phi[i] = -phi[i]
	}
	return phi, nil
}

// HeuristicExplanation ranks features by relative deviation from the normal reference
func HeuristicExplanation(fp models.Fingerprint) *models.Explanation {
	contribs := make([]float64, models.NumFeatures)
	for i, name := range models.FeatureNames {
		contribs[i] = heuristicContribution(name, fp[i], models.DefaultFingerprint[i])
	}
	return rankContributions(fp, contribs, models.AttributionHeuristic)
}

func heuristicContribution(name string, value, normal float64) float64 {
	var deviation float64
	if normal != 0 {
		deviation = math.Abs(value-normal) / math.Abs(normal)
	} else {
		deviation = math.Abs(value)
	}
	if deviation == 0 {
		return 0
	}

	if featureRiskDirection[name] == riskEitherSide || value > normal {
		return deviation
	}
	return -deviation
}

// rankContributions orders features by |contribution|; ties keep declaration order
func rankContributions(fp models.Fingerprint, contribs []float64, method models.AttributionMethod) *models.Explanation {
	order := make([]int, len(contribs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(contribs[order[a]]) > math.Abs(contribs[order[b]])
	})

	byName := make(map[string]float64, len(contribs))
	for i, c := range contribs {
		byName[models.FeatureNames[i]] = c
	}

	n := min(MaxTopFeatures, len(order))
	top := make([]models.AttributedFeature, 0, n)
	for _, i := range order[:n] {
		name := models.FeatureNames[i]
		impact := models.ImpactDecreases
		if contribs[i] > 0 {
			impact = models.ImpactIncreases
		}
		top = append(top, models.AttributedFeature{
			Feature:      name,
			DisplayName:  FeatureDisplayName(name),
			Value:        fp[i],
			Contribution: contribs[i],
			Impact:       impact,
			Description:  DescribeFeature(name, fp[i], impact),
		})
	}

	return &models.Explanation{
		Method:        method,
		Contributions: byName,
		TopFeatures:   top,
	}
}
