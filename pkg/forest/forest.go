// Package forest implements a bagged ensemble of weighted CART decision
// trees for binary classification. Trees train on bootstrap resamples with
// per-sample weights (used for class-imbalance handling) and split on
// weighted Gini impurity over a random sqrt-sized feature subset. The whole
// ensemble serializes to flat node arrays so a trained forest can live
// inside a JSON model bundle.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Config holds the ensemble hyperparameters.
type Config struct {
	TreeCount       int   `json:"tree_count"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Seed            int64 `json:"seed"`
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() *Config {
	return &Config{
		TreeCount:       200,
		MaxDepth:        10,
		MinSamplesSplit: 20,
		MinSamplesLeaf:  10,
		Seed:            42,
	}
}

// Node is one tree node in flat-array form. Feature < 0 marks a leaf, in
// which case Prob holds the weighted positive fraction at that leaf.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Prob      float64 `json:"p"`
}

// Tree is a single decision tree.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// predict walks the tree for one feature vector.
func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a trained ensemble.
type Forest struct {
	Config      Config `json:"config"`
	NumFeatures int    `json:"num_features"`
	Trees       []Tree `json:"trees"`
}

// Fit trains a forest on the given matrix. X is row-major samples, y holds
// binary labels and w per-sample weights. Training is deterministic for a
// given Config.Seed.
func Fit(X [][]float64, y []int, w []float64, config *Config) (*Forest, error) {
	if config == nil {
		config = DefaultConfig()
	}
	n := len(X)
	if n == 0 {
		return nil, fmt.Errorf("cannot fit forest on empty dataset")
	}
	if len(y) != n || len(w) != n {
		return nil, fmt.Errorf("dimension mismatch: %d samples, %d labels, %d weights", n, len(y), len(w))
	}
	p := len(X[0])
	if p == 0 {
		return nil, fmt.Errorf("cannot fit forest with zero features")
	}

	f := &Forest{
		Config:      *config,
		NumFeatures: p,
		Trees:       make([]Tree, 0, config.TreeCount),
	}

	rng := rand.New(rand.NewSource(config.Seed))
	mtry := int(math.Sqrt(float64(p)))
	if mtry < 1 {
		mtry = 1
	}

	g := &grower{
		X:      X,
		y:      y,
		w:      w,
		config: config,
		mtry:   mtry,
	}

	for i := 0; i < config.TreeCount; i++ {
		// Bootstrap resample with replacement.
		idx := make([]int, n)
		for j := range idx {
			idx[j] = rng.Intn(n)
		}
		g.rng = rand.New(rand.NewSource(rng.Int63()))

		tree := Tree{}
		g.tree = &tree
		g.grow(idx, 0)
		f.Trees = append(f.Trees, tree)
	}

	return f, nil
}

// PredictProba returns the ensemble's positive-class probability for one
// standardized feature vector: the mean of the per-tree leaf fractions.
func (f *Forest) PredictProba(x []float64) (float64, error) {
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("feature vector has %d values, forest expects %d", len(x), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("forest has no trees")
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// grower carries the shared training state while one tree is built.
type grower struct {
	X      [][]float64
	y      []int
	w      []float64
	config *Config
	mtry   int
	rng    *rand.Rand
	tree   *Tree
}

// grow builds the subtree for the given sample indices and returns its
// node index in the flat array.
func (g *grower) grow(idx []int, depth int) int {
	wPos, wNeg := g.classWeights(idx)
	prob := 0.0
	if wPos+wNeg > 0 {
		prob = wPos / (wPos + wNeg)
	}

	nodeIdx := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, Node{Feature: -1, Prob: prob})

	if depth >= g.config.MaxDepth || len(idx) < g.config.MinSamplesSplit || wPos == 0 || wNeg == 0 {
		return nodeIdx
	}

	feature, threshold, ok := g.bestSplit(idx, wPos, wNeg)
	if !ok {
		return nodeIdx
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if g.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftIdx := g.grow(left, depth+1)
	rightIdx := g.grow(right, depth+1)

	node := &g.tree.Nodes[nodeIdx]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = leftIdx
	node.Right = rightIdx
	return nodeIdx
}

// bestSplit searches a random feature subset for the weighted-Gini-optimal
// threshold. Splits that would leave fewer than MinSamplesLeaf samples on
// either side are rejected.
func (g *grower) bestSplit(idx []int, wPos, wNeg float64) (int, float64, bool) {
	total := wPos + wNeg
	parentGini := gini(wPos, wNeg)

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	for _, feature := range g.sampleFeatures() {
		// Sort the node's samples by this feature and sweep split points.
		order := make([]int, len(idx))
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return g.X[order[a]][feature] < g.X[order[b]][feature]
		})

		var leftPos, leftNeg float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			if g.y[i] == 1 {
				leftPos += g.w[i]
			} else {
				leftNeg += g.w[i]
			}

			cur := g.X[i][feature]
			next := g.X[order[k+1]][feature]
			if cur == next {
				continue
			}
			if k+1 < g.config.MinSamplesLeaf || len(order)-k-1 < g.config.MinSamplesLeaf {
				continue
			}

			rightPos := wPos - leftPos
			rightNeg := wNeg - leftNeg
			leftW := leftPos + leftNeg
			rightW := rightPos + rightNeg
			if leftW == 0 || rightW == 0 {
				continue
			}

			childGini := (leftW/total)*gini(leftPos, leftNeg) + (rightW/total)*gini(rightPos, rightNeg)
			gain := parentGini - childGini
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// sampleFeatures draws mtry distinct feature indices.
func (g *grower) sampleFeatures() []int {
	p := len(g.X[0])
	perm := g.rng.Perm(p)
	return perm[:g.mtry]
}

func (g *grower) classWeights(idx []int) (wPos, wNeg float64) {
	for _, i := range idx {
		if g.y[i] == 1 {
			wPos += g.w[i]
		} else {
			wNeg += g.w[i]
		}
	}
	return wPos, wNeg
}

// gini is the weighted binary Gini impurity.
func gini(wPos, wNeg float64) float64 {
	total := wPos + wNeg
	if total == 0 {
		return 0
	}
	pPos := wPos / total
	pNeg := wNeg / total
	return 1 - pPos*pPos - pNeg*pNeg
}
