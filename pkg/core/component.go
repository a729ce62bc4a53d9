package core

import (
	"sync/atomic"
	"time"
)

// ComponentHandle wraps a live heavy collaborator instance. A handle is
// created on load and destroyed on unload, and is owned exclusively by the
// pool or lifecycle manager that constructed it.
type ComponentHandle struct {
	Name     string
	Instance any
	LoadedAt time.Time

	refs atomic.Int32
}

// NewComponentHandle creates a handle with a reference count of one.
func NewComponentHandle(name string, instance any) *ComponentHandle {
	h := &ComponentHandle{
		Name:     name,
		Instance: instance,
		LoadedAt: time.Now().UTC(),
	}
	h.refs.Store(1)
	return h
}

// Retain increments the reference count.
func (h *ComponentHandle) Retain() {
	h.refs.Add(1)
}

// ReleaseRef decrements the reference count and returns the new value.
func (h *ComponentHandle) ReleaseRef() int32 {
	return h.refs.Add(-1)
}

// Refs returns the current reference count.
func (h *ComponentHandle) Refs() int32 {
	return h.refs.Load()
}
