package world

// Quadtree limits. A leaf splits when it exceeds maxPlayersPerNode, unless
// it already sits at maxDepth, in which case it grows without splitting.
const (
	maxPlayersPerNode = 4
	maxDepth          = 6
)

// Rect is an axis-aligned box. Containment is half-open on both axes,
// [x, x+w) × [y, y+h), so a point on a shared edge belongs to exactly one
// child after a split.
type Rect struct {
	X, Y, W, H float32
}

func (r Rect) Contains(p Vec3) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// IntersectsCircle tests the box against a circle via the closest point on
// the box to the circle's center.
func (r Rect) IntersectsCircle(center Vec3, radius float32) bool {
	cx := clampf(center.X, r.X, r.X+r.W)
	cy := clampf(center.Y, r.Y, r.Y+r.H)
	dx := center.X - cx
	dy := center.Y - cy
	return dx*dx+dy*dy <= radius*radius
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type qnode struct {
	bounds  Rect
	players []uint64

	nw, ne, sw, se *qnode
}

func (n *qnode) isLeaf() bool {
	return n.nw == nil
}

// QuadTree indexes active player positions for radius queries. A side map
// of id → position lets Remove work without the caller supplying the old
// position, and lets Query filter by exact distance. Owned by the
// simulation goroutine.
type QuadTree struct {
	root      *qnode
	positions map[uint64]Vec3
}

// NewQuadTree covers the map rectangle starting at (x, y).
func NewQuadTree(x, y, w, h float32) *QuadTree {
	return &QuadTree{
		root:      &qnode{bounds: Rect{X: x, Y: y, W: w, H: h}},
		positions: make(map[uint64]Vec3),
	}
}

// Insert records pos for id and places the id in the tree. Inserting an id
// that is already present duplicates it; callers use Update to move.
func (t *QuadTree) Insert(id uint64, pos Vec3) {
	t.positions[id] = pos
	t.insertInto(t.root, id, pos, 0)
}

// Remove drops id from the tree and the position map. Unknown ids are a
// no-op.
func (t *QuadTree) Remove(id uint64) {
	pos, ok := t.positions[id]
	if !ok {
		return
	}
	delete(t.positions, id)
	t.removeFrom(t.root, id, pos)
}

// Update moves id to newPos as a remove plus insert.
func (t *QuadTree) Update(id uint64, newPos Vec3) {
	t.Remove(id)
	t.Insert(id, newPos)
}

// Query returns the ids of all players within radius of center.
func (t *QuadTree) Query(center Vec3, radius float32) []uint64 {
	return t.QueryInto(center, radius, nil)
}

// QueryInto appends results to dst and returns it, letting per-tick callers
// reuse one buffer.
func (t *QuadTree) QueryInto(center Vec3, radius float32, dst []uint64) []uint64 {
	return t.queryNode(t.root, center, radius, dst)
}

// Position reports the indexed position of id.
func (t *QuadTree) Position(id uint64) (Vec3, bool) {
	pos, ok := t.positions[id]
	return pos, ok
}

func (t *QuadTree) TotalPlayers() int {
	return len(t.positions)
}

func (t *QuadTree) TotalNodes() int {
	return countNodes(t.root)
}

// Clear empties the tree, collapsing the root back to a leaf.
func (t *QuadTree) Clear() {
	t.positions = make(map[uint64]Vec3)
	t.root.players = t.root.players[:0]
	t.root.nw, t.root.ne, t.root.sw, t.root.se = nil, nil, nil, nil
}

func (t *QuadTree) insertInto(n *qnode, id uint64, pos Vec3, depth int) {
	if n.isLeaf() {
		n.players = append(n.players, id)

		if len(n.players) > maxPlayersPerNode && depth < maxDepth {
			n.subdivide()

			reinsert := n.players
			n.players = nil
			for _, pid := range reinsert {
				ppos := pos
				if pid != id {
					ppos = t.positions[pid]
				}
				t.insertIntoChild(n, pid, ppos, depth)
			}
		}
		return
	}
	t.insertIntoChild(n, id, pos, depth)
}

func (t *QuadTree) insertIntoChild(n *qnode, id uint64, pos Vec3, depth int) {
	switch {
	case n.nw.bounds.Contains(pos):
		t.insertInto(n.nw, id, pos, depth+1)
	case n.ne.bounds.Contains(pos):
		t.insertInto(n.ne, id, pos, depth+1)
	case n.sw.bounds.Contains(pos):
		t.insertInto(n.sw, id, pos, depth+1)
	case n.se.bounds.Contains(pos):
		t.insertInto(n.se, id, pos, depth+1)
	}
}

func (t *QuadTree) removeFrom(n *qnode, id uint64, pos Vec3) bool {
	if !n.bounds.Contains(pos) {
		return false
	}
	if n.isLeaf() {
		for i, pid := range n.players {
			if pid == id {
				n.players = append(n.players[:i], n.players[i+1:]...)
				return true
			}
		}
		return false
	}
	return t.removeFrom(n.nw, id, pos) ||
		t.removeFrom(n.ne, id, pos) ||
		t.removeFrom(n.sw, id, pos) ||
		t.removeFrom(n.se, id, pos)
}

func (t *QuadTree) queryNode(n *qnode, center Vec3, radius float32, dst []uint64) []uint64 {
	if !n.bounds.IntersectsCircle(center, radius) {
		return dst
	}
	if n.isLeaf() {
		rsq := radius * radius
		for _, pid := range n.players {
			pos, ok := t.positions[pid]
			if !ok {
				continue
			}
			if DistSq(pos, center) <= rsq {
				dst = append(dst, pid)
			}
		}
		return dst
	}
	dst = t.queryNode(n.nw, center, radius, dst)
	dst = t.queryNode(n.ne, center, radius, dst)
	dst = t.queryNode(n.sw, center, radius, dst)
	dst = t.queryNode(n.se, center, radius, dst)
	return dst
}

func (n *qnode) subdivide() {
	hw := n.bounds.W * 0.5
	hh := n.bounds.H * 0.5
	n.nw = &qnode{bounds: Rect{X: n.bounds.X, Y: n.bounds.Y, W: hw, H: hh}}
	n.ne = &qnode{bounds: Rect{X: n.bounds.X + hw, Y: n.bounds.Y, W: hw, H: hh}}
	n.sw = &qnode{bounds: Rect{X: n.bounds.X, Y: n.bounds.Y + hh, W: hw, H: hh}}
	n.se = &qnode{bounds: Rect{X: n.bounds.X + hw, Y: n.bounds.Y + hh, W: hw, H: hh}}
}

func countNodes(n *qnode) int {
	if n == nil {
		return 0
	}
	count := 1
	if !n.isLeaf() {
		count += countNodes(n.nw)
		count += countNodes(n.ne)
		count += countNodes(n.sw)
		count += countNodes(n.se)
	}
	return count
}
