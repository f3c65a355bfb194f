package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// sensitiveKeywords flag a file path as sensitive (case-insensitive substring)
var sensitiveKeywords = []string{"secret", "password", "credential", "key", "/etc/", "/root/", "config"}

// nightStartHour and nightEndHour bound the night window [22:00, 06:00)
const (
	nightStartHour = 22
	nightEndHour   = 6
)

type baselineEntry struct {
	location *string
}

// FeatureExtractor turns an identity's event window into a behavioral fingerprint
type FeatureExtractor struct {
	events    EventStore
	baselines *expirable.LRU[string, baselineEntry]
	now       func() time.Time
	logger    *logger.Logger
}

// FeatureExtractorConfig configures the baseline-location cache
type FeatureExtractorConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewFeatureExtractor creates a new feature extractor
func NewFeatureExtractor(events EventStore, cfg FeatureExtractorConfig, log *logger.Logger) *FeatureExtractor {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &FeatureExtractor{
		events:    events,
		baselines: expirable.NewLRU[string, baselineEntry](cfg.CacheSize, nil, cfg.CacheTTL),
		now:       time.Now,
		logger:    log.WithComponent("feature-extractor"),
	}
}

// GetFeatureNames returns the ordered feature names
func (e *FeatureExtractor) GetFeatureNames() []string {
	return models.FeatureNames[:]
}

// ComputeFingerprint fetches the identity's events inside [now-window, now] and extracts its fingerprint
func (e *FeatureExtractor) ComputeFingerprint(ctx context.Context, identity string, window time.Duration) (models.Fingerprint, int, error) {
	baseline, err := e.baselineLocation(ctx, identity)
	if err != nil {
		return models.Fingerprint{}, 0, err
	}

	now := e.now()
	events, err := e.events.FetchEvents(ctx, identity, now.Add(-window))
	if err != nil {
		return models.Fingerprint{}, 0, fmt.Errorf("failed to fetch events for %s: %w", identity, err)
	}

	inWindow := events[:0:0]
	for _, ev := range events {
		if !ev.Timestamp.After(now) {
			inWindow = append(inWindow, ev)
		}
	}

	e.logger.Debug().
		Str("identity", identity).
		Dur("window", window).
		Int("events", len(inWindow)).
		Msg("computing fingerprint")

	return ExtractFingerprint(inWindow, baseline, window), len(inWindow), nil
}

// InvalidateBaseline drops a cached baseline location after the identity record changes
func (e *FeatureExtractor) InvalidateBaseline(identity string) {
	e.baselines.Remove(identity)
}

func (e *FeatureExtractor) baselineLocation(ctx context.Context, identity string) (*string, error) {
	if entry, ok := e.baselines.Get(identity); ok {
		return entry.location, nil
	}
	loc, err := e.events.BaselineLocation(ctx, identity)
	if err != nil {
		return nil, err
	}
	e.baselines.Add(identity, baselineEntry{location: loc})
	return loc, nil
}

// ExtractFingerprint computes the fingerprint of an event window. Hours are read in UTC.
// Rates are per day over the requested window, which is floored at one day;
// the firewall rate is per week with the week count floored at one.
func ExtractFingerprint(events []models.Event, baseline *string, window time.Duration) models.Fingerprint {
	if len(events) == 0 {
		return models.DefaultFingerprint
	}

	days := math.Max(window.Hours()/24, 1)
	weeks := math.Max(days/7, 1)

	var loginHours []float64
	var failedLogins, fileAccesses, sensitive, privEscalations, firewallChanges, netOps int
	var portSum float64
	var portCount, locationEvents, offBaseline, weekday, night int
	locations := make(map[string]struct{})
	ports := make(map[int]struct{})

	for _, ev := range events {
		ts := ev.Timestamp.UTC()
		switch ev.Type.Normalize() {
		case models.EventTypeLogin:
			loginHours = append(loginHours, float64(ts.Hour()))
			if !ev.Success {
				failedLogins++
			}
		case models.EventTypeFileAccess:
			fileAccesses++
			if ev.FilePath != nil && isSensitivePath(*ev.FilePath) {
				sensitive++
			}
		case models.EventTypePrivilegeEscalation:
			privEscalations++
		case models.EventTypeFirewallChange:
			firewallChanges++
		case models.EventTypeNetwork:
			netOps++
		}

		if ev.Location != nil && *ev.Location != "" {
			locations[*ev.Location] = struct{}{}
			locationEvents++
			if baseline != nil && *baseline != "" && *ev.Location != *baseline {
				offBaseline++
			}
		}

		if ev.Port != nil {
			ports[*ev.Port] = struct{}{}
			portSum += float64(*ev.Port)
			portCount++
		}

		if isWeekday(ts) {
			weekday++
		}
		if h := ts.Hour(); h >= nightStartHour || h < nightEndHour {
			night++
		}
	}

	var fp models.Fingerprint
	set := func(name string, v float64) {
		i, _ := models.FeatureIndex(name)
		fp[i] = v
	}

	if len(loginHours) > 0 {
		mean, std := meanStd(loginHours)
		set(models.FeatureAvgLoginHour, mean)
		set(models.FeatureLoginHourStd, std)
	} else {
		set(models.FeatureAvgLoginHour, models.DefaultFingerprint[0])
		set(models.FeatureLoginHourStd, models.DefaultFingerprint[1])
	}

	set(models.FeatureUniqueLocationsCount, float64(len(locations)))
	if baseline != nil && *baseline != "" && locationEvents > 0 {
		set(models.FeatureAvgLocationDistance, float64(offBaseline)/float64(locationEvents))
	}

	if portCount > 0 {
		set(models.FeatureUniquePortsCount, float64(len(ports)))
		set(models.FeatureAvgPortNumber, portSum/float64(portCount))
	}

	set(models.FeatureFileAccessRate, float64(fileAccesses)/days)
	set(models.FeatureSensitiveFileAccessRate, float64(sensitive)/days)
	set(models.FeaturePrivilegeEscalationRate, float64(privEscalations)/days)
	set(models.FeatureFirewallChangeRate, float64(firewallChanges)/weeks)
	set(models.FeatureNetworkActivityVolume, float64(netOps)/days)
	set(models.FeatureFailedLoginRate, float64(failedLogins)/days)

	total := float64(len(events))
	set(models.FeatureWeekdayActivityRatio, float64(weekday)/total)
	set(models.FeatureNightActivityRatio, float64(night)/total)

	return fp
}

func isSensitivePath(path string) bool {
	p := strings.ToLower(path)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(p, kw) {
			return true
		}
	}
	return false
}

// isWeekday reports Monday through Friday
func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// meanStd returns the mean and sample standard deviation; std is 0 for a single value
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
