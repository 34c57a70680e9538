package traverser

import "github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"

// FuzzyTraverser is a DFS traversal bounded by Levenshtein edit distance
// to a target key (spec §4.7 "Fuzzy"). Each depth carries a
// dynamic-programming row giving, for every prefix length of target,
// the edit distance between that prefix and the path followed so far;
// a child is only descended into when its row's minimum entry is still
// <= maxDistance.
type FuzzyTraverser struct {
	arr         Array
	target      []byte
	maxDistance int
	stack       []fuzzyFrame
}

type fuzzyFrame struct {
	kids []fuzzyChild
	idx  int
	row  []int // length len(target)+1
}

type fuzzyChild struct {
	Label byte
	Next  uint64
	Row   []int
}

// NewFuzzy starts a fuzzy traversal from state, matching against target
// within maxDistance edits.
func NewFuzzy(arr Array, state uint64, target []byte, maxDistance int) *FuzzyTraverser {
	root := make([]int, len(target)+1)
	for i := range root {
		root[i] = i
	}

	t := &FuzzyTraverser{arr: arr, target: target, maxDistance: maxDistance}
	t.stack = []fuzzyFrame{{kids: fuzzyChildren(arr, state, root, target, maxDistance), row: root}}

	return t
}

// nextRow computes the Levenshtein DP row for appending label c to a
// path whose previous row was prevRow, following the standard
// row-recurrence used by edit-distance automata.
func nextRow(prevRow []int, c byte, target []byte) []int {
	row := make([]int, len(target)+1)
	row[0] = prevRow[0] + 1

	for j := 1; j <= len(target); j++ {
		cost := 1
		if target[j-1] == c {
			cost = 0
		}

		del := prevRow[j] + 1
		ins := row[j-1] + 1
		sub := prevRow[j-1] + cost

		row[j] = min3(del, ins, sub)
	}

	return row
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}

func rowMin(row []int) int {
	m := row[0]
	for _, v := range row[1:] {
		if v < m {
			m = v
		}
	}

	return m
}

func fuzzyChildren(arr Array, state uint64, row []int, target []byte, maxDistance int) []fuzzyChild {
	trans := arr.OutTransitions(state, sparsearray.ScanScalar)

	out := make([]fuzzyChild, 0, len(trans))

	for _, tr := range trans {
		childRow := nextRow(row, tr.Label, target)
		if rowMin(childRow) > maxDistance {
			continue
		}

		out = append(out, fuzzyChild{Label: tr.Label, Next: tr.Next, Row: childRow})
	}

	return out
}

// AtEnd reports whether the traversal has visited every state within
// the edit-distance bound.
func (t *FuzzyTraverser) AtEnd() bool {
	return len(t.stack) == 0
}

// Step advances to the next quadruple, descending into it. The
// returned Quad's Weight field is always 0; fuzzy traversal carries no
// weight ordering.
func (t *FuzzyTraverser) Step() (Quad, bool) {
	for len(t.stack) > 0 {
		top := &t.stack[len(t.stack)-1]

		if top.idx >= len(top.kids) {
			t.stack = t.stack[:len(t.stack)-1]
			continue
		}

		c := top.kids[top.idx]
		top.idx++

		depth := len(t.stack)
		kids := fuzzyChildren(t.arr, c.Next, c.Row, t.target, t.maxDistance)
		t.stack = append(t.stack, fuzzyFrame{kids: kids, row: c.Row})

		return Quad{Depth: depth, Label: c.Label, State: c.Next}, true
	}

	return Quad{}, false
}

// Prune abandons the subtree rooted at the most recently stepped-into
// state.
func (t *FuzzyTraverser) Prune() {
	if len(t.stack) == 0 {
		return
	}

	t.stack = t.stack[:len(t.stack)-1]
}

// Distance returns the minimum entry of the current DP row: the smallest
// edit distance between the path followed to the current depth and any
// prefix of target. It can be lower than the distance to the whole
// target (path "ca" against target "cat" gives 0).
func (t *FuzzyTraverser) Distance() int {
	if len(t.stack) == 0 {
		return len(t.target)
	}

	return rowMin(t.stack[len(t.stack)-1].row)
}
