package services

import (
	"fmt"

	"sentinel-lab/internal/domain/models"
)

// pathElement is one entry of the unique feature path tracked by TreeSHAP
type pathElement struct {
	feature    int
	zeroFrac   float64 // fraction of training cover flowing down this path
	oneFrac    float64 // 1 if x follows this path, else 0
	pathWeight float64
}

// TreeSHAP computes exact path-dependent Shapley values of the mean path length
// for a standardized point. phi[i] sums with ExpectedPathLength to PathLength(x).
func (f *IsolationForest) TreeSHAP(x []float64) ([]float64, error) {
	if len(x) != f.NumFeatures {
		return nil, fmt.Errorf("%w: point has %d features, forest expects %d", models.ErrAttributionUnavailable, len(x), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", models.ErrAttributionUnavailable)
	}

	phi := make([]float64, f.NumFeatures)
	for i := range f.Trees {
		t := &f.Trees[i]
		for _, n := range t.Nodes {
			if n.Cover <= 0 {
				return nil, fmt.Errorf("%w: tree %d lacks node cover", models.ErrAttributionUnavailable, i)
			}
		}
		t.shapRecurse(x, phi, 0, nil, 1, 1, leafFeature)
	}

	for i := range phi {
		phi[i] /= float64(len(f.Trees))
	}
	return phi, nil
}

// ExpectedPathLength is the cover-weighted mean path length, the TreeSHAP base value
func (f *IsolationForest) ExpectedPathLength() float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for i := range f.Trees {
		nodes := f.Trees[i].Nodes
		root := float64(nodes[0].Cover)
		for _, n := range nodes {
			if n.IsLeaf() {
				total += n.Value * float64(n.Cover) / root
			}
		}
	}
	return total / float64(len(f.Trees))
}

func (t *IsolationTree) shapRecurse(x, phi []float64, nodeIdx int, path []pathElement, zeroFrac, oneFrac float64, feature int) {
	path = extendPath(path, zeroFrac, oneFrac, feature)
	node := t.Nodes[nodeIdx]

	if node.IsLeaf() {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			phi[path[i].feature] += w * (path[i].oneFrac - path[i].zeroFrac) * node.Value
		}
		return
	}

	hot, cold := node.Left, node.Right
	if x[node.Feature] >= node.Threshold {
		hot, cold = cold, hot
	}
	cover := float64(node.Cover)
	hotZero := float64(t.Nodes[hot].Cover) / cover
	coldZero := float64(t.Nodes[cold].Cover) / cover

	// A feature already on the path is folded into the new split
	incomingZero, incomingOne := 1.0, 1.0
	for k := 1; k < len(path); k++ {
		if path[k].feature == node.Feature {
			incomingZero, incomingOne = path[k].zeroFrac, path[k].oneFrac
			path = unwindPath(path, k)
			break
		}
	}

	t.shapRecurse(x, phi, hot, path, hotZero*incomingZero, incomingOne, node.Feature)
	t.shapRecurse(x, phi, cold, path, coldZero*incomingZero, 0, node.Feature)
}

// extendPath returns a copy of path grown by one element
func extendPath(path []pathElement, zeroFrac, oneFrac float64, feature int) []pathElement {
	d := len(path)
	out := make([]pathElement, d+1, d+8)
	copy(out, path)
	out[d] = pathElement{feature: feature, zeroFrac: zeroFrac, oneFrac: oneFrac}
	if d == 0 {
		out[d].pathWeight = 1
	}
	for i := d - 1; i >= 0; i-- {
		out[i+1].pathWeight += oneFrac * out[i].pathWeight * float64(i+1) / float64(d+1)
		out[i].pathWeight = zeroFrac * out[i].pathWeight * float64(d-i) / float64(d+1)
	}
	return out
}

// unwindPath returns a copy of path with element idx removed
func unwindPath(path []pathElement, idx int) []pathElement {
	d := len(path) - 1
	out := make([]pathElement, len(path))
	copy(out, path)

	oneFrac, zeroFrac := out[idx].oneFrac, out[idx].zeroFrac
	next := out[d].pathWeight
	for i := d - 1; i >= 0; i-- {
		if oneFrac != 0 {
			tmp := out[i].pathWeight
			out[i].pathWeight = next * float64(d+1) / (float64(i+1) * oneFrac)
			next = tmp - out[i].pathWeight*zeroFrac*float64(d-i)/float64(d+1)
		} else {
			out[i].pathWeight = out[i].pathWeight * float64(d+1) / (zeroFrac * float64(d-i))
		}
	}
	for i := idx; i < d; i++ {
		out[i].feature = out[i+1].feature
		out[i].zeroFrac = out[i+1].zeroFrac
		out[i].oneFrac = out[i+1].oneFrac
	}
	return out[:d]
}

// unwoundPathSum is the total path weight if element idx were unwound
func unwoundPathSum(path []pathElement, idx int) float64 {
	d := len(path) - 1
	oneFrac, zeroFrac := path[idx].oneFrac, path[idx].zeroFrac
	next := path[d].pathWeight
	total := 0.0
	for i := d - 1; i >= 0; i-- {
		if oneFrac != 0 {
			tmp := next * float64(d+1) / (float64(i+1) * oneFrac)
			total += tmp
			next = path[i].pathWeight - tmp*zeroFrac*float64(d-i)/float64(d+1)
		} else {
			total += path[i].pathWeight / zeroFrac / (float64(d-i) / float64(d+1))
		}
	}
	return total
}
