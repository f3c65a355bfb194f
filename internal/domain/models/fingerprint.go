package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Feature names in vector order. Training and inference both depend on this order.
const (
	FeatureAvgLoginHour            = "avg_login_hour"
	FeatureLoginHourStd            = "login_hour_std"
	FeatureUniqueLocationsCount    = "unique_locations_count"
	FeatureAvgLocationDistance     = "avg_location_distance"
	FeatureUniquePortsCount        = "unique_ports_count"
	FeatureAvgPortNumber           = "avg_port_number"
	FeatureFileAccessRate          = "file_access_rate"
	FeatureSensitiveFileAccessRate = "sensitive_file_access_rate"
	FeaturePrivilegeEscalationRate = "privilege_escalation_rate"
	FeatureFirewallChangeRate      = "firewall_change_rate"
	FeatureNetworkActivityVolume   = "network_activity_volume"
	FeatureFailedLoginRate         = "failed_login_rate"
	FeatureWeekdayActivityRatio    = "weekday_activity_ratio"
	FeatureNightActivityRatio      = "night_activity_ratio"
)

// NumFeatures is the fingerprint length
const NumFeatures = 14

// FeatureNames lists every fingerprint feature in declaration order
var FeatureNames = [NumFeatures]string{
	FeatureAvgLoginHour,
	FeatureLoginHourStd,
	FeatureUniqueLocationsCount,
	FeatureAvgLocationDistance,
	FeatureUniquePortsCount,
	FeatureAvgPortNumber,
	FeatureFileAccessRate,
	FeatureSensitiveFileAccessRate,
	FeaturePrivilegeEscalationRate,
	FeatureFirewallChangeRate,
	FeatureNetworkActivityVolume,
	FeatureFailedLoginRate,
	FeatureWeekdayActivityRatio,
	FeatureNightActivityRatio,
}

// DefaultFingerprint is substituted when an identity has no events in the window.
// It describes an average employee and doubles as the normal reference table.
var DefaultFingerprint = Fingerprint{
	9.0,   // avg_login_hour
	2.0,   // login_hour_std
	1,     // unique_locations_count
	0.0,   // avg_location_distance
	3,     // unique_ports_count
	443.0, // avg_port_number
	5.0,   // file_access_rate
	0.1,   // sensitive_file_access_rate
	0.5,   // privilege_escalation_rate
	0.0,   // firewall_change_rate
	10.0,  // network_activity_volume
	0.0,   // failed_login_rate
	0.8,   // weekday_activity_ratio
	0.05,  // night_activity_ratio
}

// Fingerprint is the fixed-order behavioral feature vector for one identity.
// It marshals to a JSON object keyed by feature name.
type Fingerprint [NumFeatures]float64

// FeatureIndex returns the vector position of a feature name
func FeatureIndex(name string) (int, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Get returns the value of the named feature
func (f Fingerprint) Get(name string) (float64, bool) {
	i, ok := FeatureIndex(name)
	if !ok {
		return 0, false
	}
	return f[i], true
}

// Vector returns a copy of the values as a slice
func (f Fingerprint) Vector() []float64 {
	v := make([]float64, NumFeatures)
	copy(v, f[:])
	return v
}

// Map returns the values keyed by feature name
func (f Fingerprint) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range FeatureNames {
		m[name] = f[i]
	}
	return m
}

func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

// UnmarshalJSON requires every feature to be present; unknown keys are rejected.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Fingerprint
	for name, v := range m {
		i, ok := FeatureIndex(name)
		if !ok {
			return fmt.Errorf("unknown feature %q", name)
		}
		out[i] = v
	}
	for _, name := range FeatureNames {
		if _, ok := m[name]; !ok {
			return fmt.Errorf("missing feature %q", name)
		}
	}
	*f = out
	return nil
}

// IdentityFingerprint is a fingerprint tagged with its subject and window
type IdentityFingerprint struct {
	Identity    string        `json:"identity"`
	Window      time.Duration `json:"window"`
	EventCount  int           `json:"event_count"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	ComputedAt  time.Time     `json:"computed_at"`
}
