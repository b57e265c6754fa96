package geometry

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrTransformNotFound  = errors.New("transform not found")
	ErrDuplicateTransform = errors.New("transform already exists")
	ErrTransformCycle     = errors.New("transform parent would create a cycle")
	ErrTransformInUse     = errors.New("transform has children")
)

type transformNode struct {
	matrix *mat.Dense
	parent string
}

// TransformTable stores parent-to-world transforms keyed by ID. Each entry
// maps its local frame into its parent's frame; an entry without parent maps
// into world. The parent graph is kept acyclic at insertion time, so
// resolving a chain never needs cycle detection.
type TransformTable struct {
	mu    sync.RWMutex
	nodes map[string]*transformNode
}

// NewTransformTable creates an empty table
func NewTransformTable() *TransformTable {
	return &TransformTable{nodes: make(map[string]*transformNode)}
}

// Add inserts a transform. parentID may be empty; otherwise it must exist.
func (t *TransformTable) Add(id string, m mat.Matrix, parentID string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrTransformNotFound)
	}
	if err := CheckAffine(m); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTransform, id)
	}
	if parentID != "" {
		if parentID == id {
			return fmt.Errorf("%w: %s is its own parent", ErrTransformCycle, id)
		}
		if _, ok := t.nodes[parentID]; !ok {
			return fmt.Errorf("%w: parent %s", ErrTransformNotFound, parentID)
		}
	}
	t.nodes[id] = &transformNode{matrix: mat.DenseCopyOf(m), parent: parentID}
	return nil
}

// SetParent re-parents an existing transform. Setting a parent that is a
// descendant of id is rejected with ErrTransformCycle.
func (t *TransformTable) SetParent(id, parentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransformNotFound, id)
	}
	if parentID == "" {
		node.parent = ""
		return nil
	}
	if _, ok := t.nodes[parentID]; !ok {
		return fmt.Errorf("%w: parent %s", ErrTransformNotFound, parentID)
	}
	for cur := parentID; cur != ""; cur = t.nodes[cur].parent {
		if cur == id {
			return fmt.Errorf("%w: %s -> %s", ErrTransformCycle, id, parentID)
		}
	}
	node.parent = parentID
	return nil
}

// SetMatrix replaces the matrix of an existing transform
func (t *TransformTable) SetMatrix(id string, m mat.Matrix) error {
	if err := CheckAffine(m); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransformNotFound, id)
	}
	node.matrix = mat.DenseCopyOf(m)
	return nil
}

// Remove deletes a transform that no other transform uses as parent
func (t *TransformTable) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTransformNotFound, id)
	}
	for childID, n := range t.nodes {
		if n.parent == id {
			return fmt.Errorf("%w: %s is parent of %s", ErrTransformInUse, id, childID)
		}
	}
	delete(t.nodes, id)
	return nil
}

// Has reports whether id is in the table
func (t *TransformTable) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Parent returns the parent of id, empty for a root transform
func (t *TransformTable) Parent(id string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTransformNotFound, id)
	}
	return node.parent, nil
}

// ToWorld composes the chain starting at id into a single local-to-world
// matrix. An empty id resolves to identity.
func (t *TransformTable) ToWorld(id string) (*mat.Dense, error) {
	if id == "" {
		return Identity(), nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	world := Identity()
	for cur := id; cur != ""; {
		node, ok := t.nodes[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTransformNotFound, cur)
		}
		world = Compose(node.matrix, world)
		cur = node.parent
	}
	return world, nil
}
