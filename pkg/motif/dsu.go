package motif

// UnionFind groups motif node indices into connected components. It is not
// safe for concurrent use.
type UnionFind struct {
	parent []int
	size   []int
}

// NewUnionFind starts with n singleton components.
func NewUnionFind(n int) *UnionFind {
	uf := &UnionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

// Find returns the component root of i, or -1 when i is out of range.
func (uf *UnionFind) Find(i int) int {
	if i < 0 || i >= len(uf.parent) {
		return -1
	}
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// Union joins the components of i and j, hanging the smaller under the larger.
func (uf *UnionFind) Union(i, j int) {
	a, b := uf.Find(i), uf.Find(j)
	if a < 0 || b < 0 || a == b {
		return
	}
	if uf.size[a] < uf.size[b] {
		a, b = b, a
	}
	uf.parent[b] = a
	uf.size[a] += uf.size[b]
}

func (uf *UnionFind) Connected(i, j int) bool {
	return uf.Find(i) == uf.Find(j)
}

// Groups lists the components, each in ascending index order, ordered by
// their lowest index.
func (uf *UnionFind) Groups() [][]int {
	slot := make(map[int]int)
	var out [][]int
	for i := range uf.parent {
		r := uf.Find(i)
		k, ok := slot[r]
		if !ok {
			k = len(out)
			slot[r] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], i)
	}
	return out
}
