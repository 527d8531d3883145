// Package access resolves whether a caller may perform privileged actions.
// The core never stores role state itself; it asks an injected Controller.
package access

import (
	"sync"

	"github.com/optionledger/optiond/internal/core/token"
)

// Capability names a delegated right a caller may hold.
type Capability string

const (
	// Administrator may change protocol parameters.
	Administrator Capability = "administrator"
	// AutoCloser may exercise positions on behalf of their owners inside
	// the trailing pre-expiry window.
	AutoCloser Capability = "auto-closer"
)

// Controller answers the two permission questions the core asks.
type Controller interface {
	IsOwner(caller token.AccountID) bool
	HasCapability(caller token.AccountID, cap Capability) bool
}

// RoleSet is a Controller backed by an explicit grant table. The contract
// owner implicitly holds the Administrator capability.
type RoleSet struct {
	mu     sync.RWMutex
	owner  token.AccountID
	grants map[Capability]map[token.AccountID]struct{}
}

func NewRoleSet(owner token.AccountID) *RoleSet {
	return &RoleSet{
		owner:  owner,
		grants: make(map[Capability]map[token.AccountID]struct{}),
	}
}

func (r *RoleSet) IsOwner(caller token.AccountID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return caller != token.Zero && caller == r.owner
}

func (r *RoleSet) HasCapability(caller token.AccountID, cap Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cap == Administrator && caller == r.owner {
		return true
	}
	_, ok := r.grants[cap][caller]
	return ok
}

// Grant gives caller the capability.
func (r *RoleSet) Grant(cap Capability, caller token.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.grants[cap]
	if !ok {
		m = make(map[token.AccountID]struct{})
		r.grants[cap] = m
	}
	m[caller] = struct{}{}
}

// Revoke removes the capability from caller.
func (r *RoleSet) Revoke(cap Capability, caller token.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[cap], caller)
}
