package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Store holds the named model parameters in creation order. Parameters
// are mutated in place by the optimizer and never resized.
type Store struct {
	keys   []string
	params map[string]*mat.Dense
}

// Snapshot is a detached copy of every parameter.
type Snapshot map[string]*mat.Dense

func NewStore() *Store {
	return &Store{params: make(map[string]*mat.Dense)}
}

// Add registers a new parameter. Names must be unique.
func (s *Store) Add(name string, m *mat.Dense) {
	if _, ok := s.params[name]; ok {
		panic(fmt.Sprintf("model.Store: duplicate parameter %q", name))
	}
	s.keys = append(s.keys, name)
	s.params[name] = m
}

func (s *Store) Get(name string) *mat.Dense {
	return s.params[name]
}

func (s *Store) Has(name string) bool {
	_, ok := s.params[name]
	return ok
}

// Keys returns the parameter names in creation order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

func (s *Store) Len() int { return len(s.keys) }

// NumParams is the total number of scalar weights.
func (s *Store) NumParams() int {
	total := 0
	for _, k := range s.keys {
		r, c := s.params[k].Dims()
		total += r * c
	}
	return total
}

// Snapshot deep-copies every parameter.
func (s *Store) Snapshot() Snapshot {
	snap := make(Snapshot, len(s.keys))
	for _, k := range s.keys {
		snap[k] = mat.DenseCopyOf(s.params[k])
	}
	return snap
}

// Restore copies snap back into the live parameters. Every key must be
// present with its stored shape; nothing is written on mismatch.
func (s *Store) Restore(snap Snapshot) error {
	for _, k := range s.keys {
		src, ok := snap[k]
		if !ok {
			return errors.Errorf("restore: parameter %q missing from snapshot", k)
		}
		r, c := s.params[k].Dims()
		sr, sc := src.Dims()
		if r != sr || c != sc {
			return errors.Errorf("restore: parameter %q is %dx%d, snapshot has %dx%d", k, r, c, sr, sc)
		}
	}
	for _, k := range s.keys {
		s.params[k].Copy(snap[k])
	}
	return nil
}
