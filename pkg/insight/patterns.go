package insight

import (
	"github.com/latticehq/lattice/backend/pkg/common"
)

// Insight types produced by the discovery scan.
const (
	TypeBridge                 = "new_bridge"
	TypeHub                    = "hub_entity"
	TypeUnexpectedRelationship = "unexpected_relationship"
)

// unionFind tracks undirected connectivity components over node IDs.
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		size:   make(map[string]int),
	}
}

func (u *unionFind) find(id string) string {
	root, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		u.size[id] = 1
		return id
	}
	if root == id {
		return id
	}
	top := u.find(root)
	u.parent[id] = top
	return top
}

func (u *unionFind) union(a, b string) {
	rootA := u.find(a)
	rootB := u.find(b)
	if rootA != rootB {
		u.parent[rootA] = rootB
		u.size[rootB] += u.size[rootA]
	}
}

// connected reports whether both nodes are already in the same component.
// Nodes never seen before form their own singleton components.
func (u *unionFind) connected(a, b string) bool {
	return u.find(a) == u.find(b)
}

// componentSize returns the number of nodes in the component containing id.
func (u *unionFind) componentSize(id string) int {
	return u.size[u.find(id)]
}

// degreeCounts returns the undirected degree of every node over the given
// edges. Parallel edges with distinct relationship types each count.
func degreeCounts(edges []common.Edge) map[string]int {
	degrees := make(map[string]int)
	for _, edge := range edges {
		degrees[edge.SourceNodeID]++
		degrees[edge.TargetNodeID]++
	}
	return degrees
}

// relTypeKey identifies a relationship type between two entity types,
// ignoring direction so A-[OWNS]->B and B-[OWNS]->A count as one pairing.
func relTypeKey(typeA, typeB, relationshipType string) string {
	if typeB < typeA {
		typeA, typeB = typeB, typeA
	}
	return typeA + "|" + typeB + "|" + relationshipType
}
