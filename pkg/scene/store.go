// Package scene is an in-memory scene graph: volumes, transforms, plans and
// beams addressed by ID, each carrying string attributes. It stands in for
// the application's persistent node store; the dose pipeline only uses the
// operations defined here.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
	"beamdose/pkg/geometry"
)

// AttrStudy files a node under a study for display grouping
const AttrStudy = "Study"

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("node id already in use")
	ErrWrongNodeType = errors.New("node has a different type")
)

// Store holds all nodes. It is safe for concurrent use; returned pointers
// refer to the stored nodes.
type Store struct {
	mu         sync.RWMutex
	volumes    map[string]*models.Volume
	plans      map[string]*models.Plan
	beams      map[string]*models.Beam
	transforms *geometry.TransformTable
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		volumes:    make(map[string]*models.Volume),
		plans:      make(map[string]*models.Plan),
		beams:      make(map[string]*models.Beam),
		transforms: geometry.NewTransformTable(),
	}
}

// newID returns a fresh node ID
func newID() string {
	return uuid.New().String()
}

func (s *Store) idInUse(id string) bool {
	_, v := s.volumes[id]
	_, p := s.plans[id]
	_, b := s.beams[id]
	return v || p || b || s.transforms.Has(id)
}

// AddVolume stores v, assigning an ID when it has none
func (s *Store) AddVolume(v *models.Volume) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: nil volume", ErrNodeNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = newID()
	} else if s.idInUse(v.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateNode, v.ID)
	}
	if v.Attributes == nil {
		v.Attributes = make(map[string]string)
	}
	s.volumes[v.ID] = v
	return v.ID, nil
}

// Volume returns the volume with the given ID
func (s *Store) Volume(id string) (*models.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[id]
	if !ok {
		return nil, fmt.Errorf("%w: volume %q", ErrNodeNotFound, id)
	}
	return v, nil
}

// Volumes returns all volumes sorted by name, then ID
func (s *Store) Volumes() []*models.Volume {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Volume, 0, len(s.volumes))
	for _, v := range s.volumes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddTransform stores a parent transform and returns its ID
func (s *Store) AddTransform(m mat.Matrix, parentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newID()
	if err := s.transforms.Add(id, m, parentID); err != nil {
		return "", err
	}
	return id, nil
}

// Transforms exposes the transform table
func (s *Store) Transforms() *geometry.TransformTable {
	return s.transforms
}

// WorldTransform resolves the parent chain of a volume to one matrix
func (s *Store) WorldTransform(v *models.Volume) (*mat.Dense, error) {
	return s.transforms.ToWorld(v.TransformID)
}

// AddPlan stores a plan, assigning an ID when it has none
func (s *Store) AddPlan(p *models.Plan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	} else if s.idInUse(p.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateNode, p.ID)
	}
	if p.Attributes == nil {
		p.Attributes = make(map[string]string)
	}
	s.plans[p.ID] = p
	return p.ID, nil
}

// Plan returns the plan with the given ID
func (s *Store) Plan(id string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", ErrNodeNotFound, id)
	}
	return p, nil
}

// AddBeam stores b as the last beam of the plan
func (s *Store) AddBeam(planID string, b *models.Beam) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return "", fmt.Errorf("%w: plan %q", ErrNodeNotFound, planID)
	}
	if b.ID == "" {
		b.ID = newID()
	} else if s.idInUse(b.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateNode, b.ID)
	}
	if b.Parameters == nil {
		b.Parameters = make(models.ParameterSet)
	}
	if b.Attributes == nil {
		b.Attributes = make(map[string]string)
	}
	b.PlanID = planID
	s.beams[b.ID] = b
	p.BeamIDs = append(p.BeamIDs, b.ID)
	return b.ID, nil
}

// Beam returns the beam with the given ID
func (s *Store) Beam(id string) (*models.Beam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beams[id]
	if !ok {
		return nil, fmt.Errorf("%w: beam %q", ErrNodeNotFound, id)
	}
	return b, nil
}

// Beams returns the beams of a plan in plan order
func (s *Store) Beams(planID string) ([]*models.Beam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", ErrNodeNotFound, planID)
	}
	out := make([]*models.Beam, 0, len(p.BeamIDs))
	for _, id := range p.BeamIDs {
		if b, ok := s.beams[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// RemoveNode deletes a volume, beam or plan. Removing a beam drops it from
// its plan; removing a plan leaves its beams' volumes to the caller.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.volumes[id]; ok {
		delete(s.volumes, id)
		return nil
	}
	if b, ok := s.beams[id]; ok {
		if p, ok := s.plans[b.PlanID]; ok {
			kept := p.BeamIDs[:0]
			for _, bid := range p.BeamIDs {
				if bid != id {
					kept = append(kept, bid)
				}
			}
			p.BeamIDs = kept
		}
		delete(s.beams, id)
		return nil
	}
	if p, ok := s.plans[id]; ok {
		for _, bid := range p.BeamIDs {
			delete(s.beams, bid)
		}
		delete(s.plans, id)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

// Has reports whether any node uses id
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idInUse(id)
}

// SetAttribute sets a string attribute on any node
func (s *Store) SetAttribute(id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, err := s.attributes(id)
	if err != nil {
		return err
	}
	attrs[key] = value
	return nil
}

// Attribute reads a string attribute from any node
func (s *Store) Attribute(id, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, err := s.attributes(id)
	if err != nil {
		return "", false
	}
	v, ok := attrs[key]
	return v, ok
}

func (s *Store) attributes(id string) (map[string]string, error) {
	if v, ok := s.volumes[id]; ok {
		if v.Attributes == nil {
			v.Attributes = make(map[string]string)
		}
		return v.Attributes, nil
	}
	if b, ok := s.beams[id]; ok {
		return b.Attributes, nil
	}
	if p, ok := s.plans[id]; ok {
		return p.Attributes, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

// AttachDose makes volumeID the beam's dose volume. With replace set, a
// different previously attached volume is removed from the store first.
func (s *Store) AttachDose(beamID, volumeID string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beams[beamID]
	if !ok {
		return fmt.Errorf("%w: beam %q", ErrNodeNotFound, beamID)
	}
	if _, ok := s.volumes[volumeID]; !ok {
		return fmt.Errorf("%w: volume %q", ErrNodeNotFound, volumeID)
	}
	if replace && b.DoseVolumeID != "" && b.DoseVolumeID != volumeID {
		delete(s.volumes, b.DoseVolumeID)
	}
	b.DoseVolumeID = volumeID
	return nil
}

// DetachDose clears the beam's dose reference and returns the previous
// volume ID. The volume itself stays in the store.
func (s *Store) DetachDose(beamID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beams[beamID]
	if !ok {
		return "", fmt.Errorf("%w: beam %q", ErrNodeNotFound, beamID)
	}
	old := b.DoseVolumeID
	b.DoseVolumeID = ""
	return old, nil
}

// AddIntermediate records volumeID as an intermediate result of the beam
func (s *Store) AddIntermediate(beamID, volumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beams[beamID]
	if !ok {
		return fmt.Errorf("%w: beam %q", ErrNodeNotFound, beamID)
	}
	if _, ok := s.volumes[volumeID]; !ok {
		return fmt.Errorf("%w: volume %q", ErrNodeNotFound, volumeID)
	}
	b.IntermediateIDs = append(b.IntermediateIDs, volumeID)
	return nil
}

// TakeIntermediates empties the beam's intermediate list and returns it
func (s *Store) TakeIntermediates(beamID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beams[beamID]
	if !ok {
		return nil, fmt.Errorf("%w: beam %q", ErrNodeNotFound, beamID)
	}
	ids := b.IntermediateIDs
	b.IntermediateIDs = nil
	return ids, nil
}

// SetTotalDose records the plan's accumulated dose volume
func (s *Store) SetTotalDose(planID, volumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %q", ErrNodeNotFound, planID)
	}
	if volumeID != "" {
		if _, ok := s.volumes[volumeID]; !ok {
			return fmt.Errorf("%w: volume %q", ErrNodeNotFound, volumeID)
		}
	}
	p.TotalDoseVolumeID = volumeID
	return nil
}

// RemoveTransform deletes a transform that no other transform uses as parent
func (s *Store) RemoveTransform(id string) error {
	return s.transforms.Remove(id)
}

// Study returns the study a node is filed under
func (s *Store) Study(id string) string {
	study, _ := s.Attribute(id, AttrStudy)
	return study
}
