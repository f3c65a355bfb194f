package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"sentinel-lab/pkg/logger"
)

// leafFeature marks a terminal node
const leafFeature = -1

// IsolationForest implements the Isolation Forest anomaly detection algorithm.
// Trees are stored as flat node arrays so the trained forest serializes as-is.
type IsolationForest struct {
	Trees         []IsolationTree `json:"trees"`
	SampleSize    int             `json:"sample_size"`
	MaxDepth      int             `json:"max_depth"`
	Contamination float64         `json:"contamination"`
	Offset        float64         `json:"offset"`
	NumFeatures   int             `json:"n_features"`

	numTrees int
	rng      *rand.Rand
	logger   *logger.Logger
}

// IsolationTree is a single tree; Nodes[0] is the root
type IsolationTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is an internal split or a leaf. Cover counts the training samples
// that reached the node and is what exact attribution weights paths by.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Cover     int     `json:"n"`
	Value     float64 `json:"v,omitempty"` // leaf path length: depth + c(cover)
}

// IsLeaf reports whether the node is terminal
func (n TreeNode) IsLeaf() bool {
	return n.Feature == leafFeature
}

// IsolationForestConfig holds configuration for the forest
type IsolationForestConfig struct {
	NumTrees      int     // Number of trees (default: 100)
	SampleSize    int     // Subsample size (default: 256)
	Contamination float64 // Expected proportion of anomalies (default: 0.1)
	RandomSeed    int64   // Random seed for reproducibility
}

// DefaultIsolationForestConfig returns default configuration
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{
		NumTrees:      100,
		SampleSize:    256,
		Contamination: 0.1,
		RandomSeed:    42,
	}
}

// NewIsolationForest creates an untrained forest
func NewIsolationForest(config IsolationForestConfig, log *logger.Logger) *IsolationForest {
	if config.NumTrees <= 0 {
		config.NumTrees = 100
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 256
	}
	if config.Contamination <= 0 || config.Contamination >= 1 {
		config.Contamination = 0.1
	}

	return &IsolationForest{
		SampleSize:    config.SampleSize,
		Contamination: config.Contamination,
		numTrees:      config.NumTrees,
		rng:           rand.New(rand.NewSource(config.RandomSeed)),
		logger:        log.WithComponent("isolation-forest"),
	}
}

// Train builds the trees on standardized data and sets the decision offset so
// that roughly Contamination of the training rows fall below zero.
func (f *IsolationForest) Train(ctx context.Context, data [][]float64) error {
	startTime := time.Now()
	n := len(data)
	if n == 0 {
		return errors.New("isolation forest: empty training set")
	}
	f.NumFeatures = len(data[0])

	sampleSize := f.SampleSize
	if sampleSize > n {
		sampleSize = n
	}
	f.SampleSize = sampleSize
	f.MaxDepth = int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f.Trees = make([]IsolationTree, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.Trees[i] = f.buildTree(f.subsample(data, sampleSize))
	}

	scores := make([]float64, n)
	for i, row := range data {
		scores[i] = f.ScoreSamples(row)
	}
	f.Offset = percentile(scores, 100*f.Contamination)

	f.logger.Info().
		Int("trees", len(f.Trees)).
		Int("sample_size", sampleSize).
		Int("training_size", n).
		Float64("offset", f.Offset).
		Dur("duration", time.Since(startTime)).
		Msg("isolation forest trained")

	return nil
}

// PathLength returns the mean isolation depth of x across trees
func (f *IsolationForest) PathLength(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	return total / float64(len(f.Trees))
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)); lower is more abnormal
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	return -math.Pow(2, -f.PathLength(x)/averagePathLength(float64(f.SampleSize)))
}

// DecisionFunction is ScoreSamples shifted by the training offset; negative means outlier
func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

func (t *IsolationTree) pathLength(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.IsLeaf() {
			return node.Value
		}
		if x[node.Feature] < node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// averagePathLength calculates c(n) - the average path length of unsuccessful search in BST
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - (2(n-1)/n), H(i) ~ ln(i) + Euler's constant
	h := math.Log(n-1) + 0.5772156649
	return 2*h - (2*(n-1))/n
}

func (f *IsolationForest) buildTree(data [][]float64) IsolationTree {
	t := IsolationTree{Nodes: make([]TreeNode, 0, 2*len(data))}
	f.buildNode(&t, data, 0)
	return t
}

// buildNode appends the subtree for data and returns its index
func (f *IsolationForest) buildNode(t *IsolationTree, data [][]float64, depth int) int {
	idx := len(t.Nodes)
	n := len(data)
	leaf := TreeNode{Feature: leafFeature, Cover: n, Value: float64(depth) + averagePathLength(float64(n))}
	t.Nodes = append(t.Nodes, leaf)

	if depth >= f.MaxDepth || n <= 1 {
		return idx
	}

	// Only split on features that vary within this node
	candidates := make([]int, 0, f.NumFeatures)
	for d := 0; d < f.NumFeatures; d++ {
		for _, point := range data[1:] {
			if point[d] != data[0][d] {
				candidates = append(candidates, d)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return idx
	}

	feature := candidates[f.rng.Intn(len(candidates))]
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, point := range data[1:] {
		minVal = math.Min(minVal, point[feature])
		maxVal = math.Max(maxVal, point[feature])
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, point := range data {
		if point[feature] < splitValue {
			leftData = append(leftData, point)
		} else {
			rightData = append(rightData, point)
		}
	}
	if len(leftData) == 0 || len(rightData) == 0 {
		return idx
	}

	left := f.buildNode(t, leftData, depth+1)
	right := f.buildNode(t, rightData, depth+1)
	t.Nodes[idx] = TreeNode{
		Feature:   feature,
		Threshold: splitValue,
		Left:      left,
		Right:     right,
		Cover:     n,
	}
	return idx
}

// subsample draws size rows without replacement
func (f *IsolationForest) subsample(data [][]float64, size int) [][]float64 {
	n := len(data)
	if size >= n {
		return data
	}

	// Fisher-Yates shuffle for first 'size' elements
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + f.rng.Intn(n-i)
		indices[i], indices[j] = indices[j], indices[i]
	}

	sample := make([][]float64, size)
	for i := 0; i < size; i++ {
		sample[i] = data[indices[i]]
	}
	return sample
}

// percentile uses linear interpolation between closest ranks
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
