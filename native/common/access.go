package common

import (
	"errors"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether caller may invoke a gated method such as
// "hub.addAsset" or "spoke.positionManager".
type Authorizer interface {
	CanCall(caller ethcommon.Address, method string) bool
}

// Authorize returns ErrUnauthorized wrapped with the method name when the
// authorizer rejects the call. A nil authorizer permits every call.
func Authorize(a Authorizer, caller ethcommon.Address, method string) error {
	if a == nil {
		return nil
	}
	if !a.CanCall(caller, method) {
		return fmt.Errorf("%s by %s: %w", method, caller.Hex(), ErrUnauthorized)
	}
	return nil
}

// Wildcard grants every method when assigned to a caller.
const Wildcard = "*"

// RoleTable is an in-memory Authorizer keyed by caller.
type RoleTable struct {
	mu     sync.RWMutex
	grants map[ethcommon.Address]map[string]struct{}
}

func NewRoleTable() *RoleTable {
	return &RoleTable{grants: make(map[ethcommon.Address]map[string]struct{})}
}

// Grant allows caller to invoke the given methods.
func (r *RoleTable) Grant(caller ethcommon.Address, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.grants[caller]
	if !ok {
		set = make(map[string]struct{}, len(methods))
		r.grants[caller] = set
	}
	for _, method := range methods {
		set[method] = struct{}{}
	}
}

// Revoke removes the given methods from caller.
func (r *RoleTable) Revoke(caller ethcommon.Address, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.grants[caller]
	for _, method := range methods {
		delete(set, method)
	}
	if len(set) == 0 {
		delete(r.grants, caller)
	}
}

func (r *RoleTable) CanCall(caller ethcommon.Address, method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.grants[caller]
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok := set[method]
	return ok
}
