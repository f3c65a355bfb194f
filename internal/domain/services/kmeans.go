package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"sentinel-lab/pkg/logger"
)

// silhouetteSampleLimit caps the O(n^2) silhouette computation
const silhouetteSampleLimit = 1000

// KMeans groups standardized fingerprints into behavioral archetypes
type KMeans struct {
	K          int         `json:"k"`
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"`
	Silhouette float64     `json:"silhouette"`

	maxIterations int
	tolerance     float64
	restarts      int
	rng           *rand.Rand
	logger        *logger.Logger
}

// KMeansConfig holds configuration for K-Means
type KMeansConfig struct {
	K             int     // Number of clusters
	MaxIterations int     // Maximum iterations (default: 100)
	Tolerance     float64 // Convergence tolerance (default: 1e-4)
	Restarts      int     // Independent k-means++ runs; lowest inertia wins (default: 10)
	RandomSeed    int64   // Random seed
}

// DefaultKMeansConfig returns default configuration
func DefaultKMeansConfig() KMeansConfig {
	return KMeansConfig{
		K:             5,
		MaxIterations: 100,
		Tolerance:     1e-4,
		Restarts:      10,
		RandomSeed:    42,
	}
}

// NewKMeans creates a new K-Means clustering model
func NewKMeans(config KMeansConfig, log *logger.Logger) *KMeans {
	if config.K <= 0 {
		config.K = 5
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 100
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 1e-4
	}
	if config.Restarts <= 0 {
		config.Restarts = 10
	}

	return &KMeans{
		K:             config.K,
		maxIterations: config.MaxIterations,
		tolerance:     config.Tolerance,
		restarts:      config.Restarts,
		rng:           rand.New(rand.NewSource(config.RandomSeed)),
		logger:        log.WithComponent("kmeans"),
	}
}

// Train fits centroids on standardized data
func (km *KMeans) Train(ctx context.Context, data [][]float64) error {
	startTime := time.Now()
	n := len(data)
	if n == 0 {
		return errors.New("kmeans: empty training set")
	}
	if n < km.K {
		km.K = n
	}

	best := math.MaxFloat64
	var bestCentroids [][]float64
	var bestAssignments []int
	for run := 0; run < km.restarts; run++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		centroids, assignments, inertia := km.fit(data)
		if inertia < best {
			best, bestCentroids, bestAssignments = inertia, centroids, assignments
		}
	}

	km.Centroids = bestCentroids
	km.Inertia = best
	km.Silhouette = silhouetteScore(data, bestAssignments, km.K)

	km.logger.Info().
		Int("k", km.K).
		Int("training_size", n).
		Float64("inertia", km.Inertia).
		Float64("silhouette", km.Silhouette).
		Dur("duration", time.Since(startTime)).
		Msg("K-Means trained")

	return nil
}

// Predict returns the nearest centroid and its distance
func (km *KMeans) Predict(point []float64) (int, float64) {
	return nearestCentroid(km.Centroids, point)
}

// fit runs one k-means++ initialized Lloyd iteration sequence
func (km *KMeans) fit(data [][]float64) ([][]float64, []int, float64) {
	centroids := km.initializeCentroidsKMeansPP(data)
	assignments := make([]int, len(data))
	prevInertia := math.MaxFloat64
	inertia := 0.0

	for iter := 0; iter < km.maxIterations; iter++ {
		for i, point := range data {
			assignments[i], _ = nearestCentroid(centroids, point)
		}
		updateCentroids(centroids, data, assignments)

		inertia = 0
		for i, point := range data {
			d := euclideanDistance(point, centroids[assignments[i]])
			inertia += d * d
		}
		if math.Abs(prevInertia-inertia) < km.tolerance {
			break
		}
		prevInertia = inertia
	}

	return centroids, assignments, inertia
}

// initializeCentroidsKMeansPP picks centroids with probability proportional to squared distance
func (km *KMeans) initializeCentroidsKMeansPP(data [][]float64) [][]float64 {
	n := len(data)
	centroids := make([][]float64, km.K)
	centroids[0] = append([]float64(nil), data[km.rng.Intn(n)]...)

	distances := make([]float64, n)
	for c := 1; c < km.K; c++ {
		totalDist := 0.0
		for i, point := range data {
			minDist := math.MaxFloat64
			for j := 0; j < c; j++ {
				minDist = math.Min(minDist, euclideanDistance(point, centroids[j]))
			}
			distances[i] = minDist * minDist
			totalDist += distances[i]
		}

		target := km.rng.Float64() * totalDist
		cumulative := 0.0
		chosenIdx := 0
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				chosenIdx = i
				break
			}
		}
		centroids[c] = append([]float64(nil), data[chosenIdx]...)
	}
	return centroids
}

// updateCentroids moves each centroid to the mean of its members; empty clusters keep their centroid
func updateCentroids(centroids, data [][]float64, assignments []int) {
	dims := len(data[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, point := range data {
		c := assignments[i]
		counts[c]++
		for d := 0; d < dims; d++ {
			sums[c][d] += point[d]
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for d := 0; d < dims; d++ {
			sums[c][d] /= float64(counts[c])
		}
		centroids[c] = sums[c]
	}
}

func nearestCentroid(centroids [][]float64, point []float64) (int, float64) {
	if len(centroids) == 0 {
		return 0, 0
	}
	minDist := math.MaxFloat64
	minIdx := 0
	for i, centroid := range centroids {
		if dist := euclideanDistance(point, centroid); dist < minDist {
			minDist = dist
			minIdx = i
		}
	}
	return minIdx, minDist
}

func euclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// silhouetteScore returns the mean silhouette coefficient over at most silhouetteSampleLimit points
func silhouetteScore(data [][]float64, assignments []int, k int) float64 {
	n := len(data)
	if n > silhouetteSampleLimit {
		n = silhouetteSampleLimit
	}
	if n <= 1 || k <= 1 {
		return 0
	}

	total := 0.0
	for i := 0; i < n; i++ {
		sums := make([]float64, k)
		counts := make([]int, k)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			c := assignments[j]
			sums[c] += euclideanDistance(data[i], data[j])
			counts[c]++
		}

		own := assignments[i]
		if counts[own] == 0 {
			continue
		}
		a := sums[own] / float64(counts[own])
		b := math.MaxFloat64
		for c := 0; c < k; c++ {
			if c != own && counts[c] > 0 {
				b = math.Min(b, sums[c]/float64(counts[c]))
			}
		}
		if b == math.MaxFloat64 {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n)
}
