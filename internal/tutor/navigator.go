package tutor

import (
	"slices"
	"sync"

	"github.com/ashureev/learnitall/internal/domain"
)

// Navigator holds an ordered exercise set and a cyclic current index.
type Navigator struct {
	mu        sync.RWMutex
	exercises []domain.Exercise
	index     int
}

// NewNavigator creates a navigator positioned on the first exercise.
func NewNavigator(exercises []domain.Exercise) (*Navigator, error) {
	if len(exercises) == 0 {
		return nil, ErrInvalidNavigation
	}
	return &Navigator{exercises: slices.Clone(exercises)}, nil
}

// Previous moves to the previous exercise, wrapping to the last one.
func (n *Navigator) Previous() (int, error) {
	return n.move(-1)
}

// Next moves to the next exercise, wrapping to the first one.
func (n *Navigator) Next() (int, error) {
	return n.move(1)
}

// Current returns the exercise at the current index.
func (n *Navigator) Current() (domain.Exercise, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.exercises) == 0 {
		return domain.Exercise{}, ErrInvalidNavigation
	}
	return n.exercises[n.index], nil
}

// Index returns the current index.
func (n *Navigator) Index() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.index
}

// Len returns the number of exercises.
func (n *Navigator) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.exercises)
}

func (n *Navigator) move(delta int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	size := len(n.exercises)
	if size == 0 {
		return 0, ErrInvalidNavigation
	}
	n.index = ((n.index+delta)%size + size) % size
	return n.index, nil
}

func (n *Navigator) rewind() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.index = 0
}
