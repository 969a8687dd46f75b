package model

import "fmt"

// leafMarker is the feature index that marks a leaf node in artifact dumps.
const leafMarker = -1

// Node is one node of a binary decision tree stored as a flat array.
// Internal nodes route on Feature <= Threshold (left) vs > (right); leaf
// nodes carry Value (a probability for forest trees, a margin contribution
// for boosted trees).
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a flat-array decision tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// validate checks that every child index stays inside the node array, so
// evaluation can walk the tree without bounds checks per step.
func (t *Tree) validate(dim int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Feature == leafMarker {
			continue
		}
		if n.Feature < 0 || n.Feature >= dim {
			return fmt.Errorf("node %d routes on feature %d, schema has %d", i, n.Feature, dim)
		}
		if n.Left < 0 || n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has child out of range", i)
		}
		if n.Left <= i && n.Right <= i {
			return fmt.Errorf("node %d has no forward edge", i)
		}
	}
	return nil
}

// Eval walks the tree for one feature vector and returns the leaf value.
func (t *Tree) Eval(features []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature == leafMarker {
			return n.Value
		}
		if features[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
