// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hub

import (
	"sort"
	"sync"
)

// DefaultGroup is the group every session joins on connect.
const DefaultGroup = "all"

// Registry tracks which sessions belong to which named groups.
//
// # Description
//
// Membership is keyed by session ID, so registering a session twice is
// harmless. A session that has disconnected is in no group. Empty groups
// are removed.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Session
	member map[string]map[string]struct{} // session ID -> group names
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[string]*Session),
		member: make(map[string]map[string]struct{}),
	}
}

// OnConnect adds s to DefaultGroup.
func (r *Registry) OnConnect(s *Session) {
	r.Join(s, DefaultGroup)
}

// OnDisconnect removes s from every group.
//
// # Outputs
//
//   - bool: true if s was registered.
func (r *Registry) OnDisconnect(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, ok := r.member[s.ID()]
	if !ok {
		return false
	}
	for name := range groups {
		r.removeLocked(name, s.ID())
	}
	delete(r.member, s.ID())
	return true
}

// Join adds s to group.
func (r *Registry) Join(s *Session, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Session)
		r.groups[group] = members
	}
	members[s.ID()] = s

	groups, ok := r.member[s.ID()]
	if !ok {
		groups = make(map[string]struct{})
		r.member[s.ID()] = groups
	}
	groups[group] = struct{}{}
}

// Leave removes s from group only.
func (r *Registry) Leave(s *Session, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(group, s.ID())
	if groups, ok := r.member[s.ID()]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(r.member, s.ID())
		}
	}
}

func (r *Registry) removeLocked(group, id string) {
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Resolve returns a snapshot of the sessions in group.
//
// # Outputs
//
//   - []*Session: Members at the time of the call. Empty for unknown groups.
func (r *Registry) Resolve(group string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// Groups returns the sorted names of non-empty groups.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupsOf returns the sorted group names the session with id belongs to.
func (r *Registry) GroupsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.member[id]))
	for name := range r.member[id] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered session once.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]*Session, len(r.member))
	for _, members := range r.groups {
		for id, s := range members {
			seen[id] = s
		}
	}
	out := make([]*Session, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.member)
}

// Lookup returns the registered session with id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.member[id]; !ok {
		return nil, false
	}
	for name := range r.member[id] {
		if s, ok := r.groups[name][id]; ok {
			return s, true
		}
	}
	return nil, false
}
