package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func attributed(names ...string) []models.AttributedFeature {
	out := make([]models.AttributedFeature, len(names))
	for i, n := range names {
		out[i] = models.AttributedFeature{Feature: n, Value: 1, Contribution: float64(len(names) - i)}
	}
	return out
}

func newMapper() *TechniqueMapper {
	return NewTechniqueMapper(DefaultTechniqueCatalog, DefaultMapperWeights(), logger.Nop())
}

func TestMapTechniques_ScoresAndOrders(t *testing.T) {
	mappings := newMapper().MapTechniques(CategoryUnusualLoginTime,
		attributed(models.FeatureAvgLoginHour, models.FeatureNightActivityRatio), 80)

	require.NotEmpty(t, mappings)
	assert.Equal(t, "T1078", mappings[0].TechniqueID)
	// 0.4 category + 0.4*1/4 indicators + 0.2*0.8 risk
	assert.InDelta(t, 0.66, mappings[0].Confidence, 1e-9)

	for i, m := range mappings {
		assert.Greater(t, m.Confidence, 0.3)
		assert.LessOrEqual(t, m.Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, mappings[i-1].Confidence, m.Confidence)
		}
	}
}

func TestMapTechniques_RiskAloneNeverQualifies(t *testing.T) {
	mappings := newMapper().MapTechniques(CategoryUnknown, nil, 100)
	assert.Empty(t, mappings)
}

func TestMapTechniques_PrivilegeEscalation(t *testing.T) {
	mappings := newMapper().MapTechniques(CategoryPrivilegeEscalate,
		attributed(models.FeaturePrivilegeEscalationRate, models.FeatureFailedLoginRate), 90)

	ids := make([]string, len(mappings))
	for i, m := range mappings {
		ids[i] = m.TechniqueID
	}
	assert.Contains(t, ids, "T1068")
	assert.Contains(t, ids, "T1098")
	// equal confidence keeps catalog order
	assert.Equal(t, "T1068", ids[0])
}

func TestMapTechniques_ResourceHijacking(t *testing.T) {
	mappings := newMapper().MapTechniques(CategoryHighCPUUsage, nil, 75)
	require.Len(t, mappings, 1)
	assert.Equal(t, "T1496", mappings[0].TechniqueID)
	assert.InDelta(t, 0.55, mappings[0].Confidence, 1e-9)
}

func TestMapTechniques_TunedWeights(t *testing.T) {
	weights := DefaultMapperWeights()
	weights.MinScore = 0.7
	m := NewTechniqueMapper(DefaultTechniqueCatalog, weights, logger.Nop())
	assert.Empty(t, m.MapTechniques(CategoryUnusualLoginTime, attributed(models.FeatureAvgLoginHour), 80))
}

func TestLoadTechniqueCatalog(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
techniques:
  - id: T1041
    name: Exfiltration Over C2 Channel
    tactic: Exfiltration
    description: Data is stolen over the command and control channel
    indicators: [network_activity, large_transfer]
`), 0o644))

	catalog, err := LoadTechniqueCatalog(good)
	require.NoError(t, err)
	require.Len(t, catalog.Techniques, 1)
	tech, ok := catalog.Lookup("T1041")
	require.True(t, ok)
	assert.Equal(t, "Exfiltration", tech.Tactic)

	mapper := NewTechniqueMapper(catalog, DefaultMapperWeights(), logger.Nop())
	mappings := mapper.MapTechniques("network_activity", attributed(models.FeatureNetworkActivityVolume), 50)
	require.Len(t, mappings, 1)
	assert.Equal(t, "T1041", mappings[0].TechniqueID)

	builtin, err := LoadTechniqueCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTechniqueCatalog, builtin)

	tests := map[string]string{
		"duplicate": "techniques:\n  - {id: T1, indicators: [a]}\n  - {id: T1, indicators: [b]}\n",
		"no indicators": "techniques:\n  - {id: T1}\n",
		"bad yaml": "techniques: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadTechniqueCatalog(path)
			assert.Error(t, err)
		})
	}

	_, err = LoadTechniqueCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDetermineCategory(t *testing.T) {
	assert.Equal(t, CategoryUnknown, DetermineCategory(nil))
	assert.Equal(t, CategorySensitiveFiles, DetermineCategory(attributed(models.FeatureSensitiveFileAccessRate)))
	assert.Equal(t, "night_activity", DetermineCategory(attributed(models.FeatureNightActivityRatio, models.FeatureAvgLoginHour)))
	assert.Equal(t, CategoryBehavioral, DetermineCategory(attributed("bytes_out")))
}

func TestDescribe(t *testing.T) {
	top := []models.AttributedFeature{{Feature: models.FeatureAvgLoginHour, Value: 3}}
	assert.Equal(t, "Jane Doe logged in at an unusual time (3.0:00)", Describe(CategoryUnusualLoginTime, top, "Jane Doe"))

	top = []models.AttributedFeature{{Feature: models.FeatureFailedLoginRate, Value: 4.5}}
	assert.Equal(t, "jdoe had 4.50 failed logins/day", Describe(CategoryFailedLogin, top, "jdoe"))

	assert.Equal(t, "Unusual behavioral pattern detected for jdoe", Describe(CategoryUnknown, nil, "jdoe"))

	top = []models.AttributedFeature{{Feature: "bytes_out", Value: 1}}
	assert.Equal(t, "Unusual Bytes Out detected for jdoe", Describe(CategoryBehavioral, top, "jdoe"))
}
