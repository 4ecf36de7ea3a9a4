// Package registry exposes the allow/deny membership checks gating request
// traffic. The manager consumes the two interfaces; implementations are
// either static sets (tests, permissive deployments) or on-chain registries.
package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Allowlist answers whether an address may participate.
type Allowlist interface {
	IsAllowed(ctx context.Context, addr common.Address) (bool, error)
}

// Blocklist answers whether an address is denied.
type Blocklist interface {
	IsBlocked(ctx context.Context, addr common.Address) (bool, error)
}

// StaticAllowlist is a fixed membership set. When Open is true every address
// passes, regardless of membership.
type StaticAllowlist struct {
	mu      sync.Mutex
	Open    bool
	members map[common.Address]struct{}
}

// NewStaticAllowlist builds an allowlist from the given members.
func NewStaticAllowlist(open bool, members ...common.Address) *StaticAllowlist {
	set := make(map[common.Address]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &StaticAllowlist{Open: open, members: set}
}

// Add admits an address.
func (a *StaticAllowlist) Add(addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.members[addr] = struct{}{}
}

func (a *StaticAllowlist) IsAllowed(ctx context.Context, addr common.Address) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Open {
		return true, nil
	}
	_, ok := a.members[addr]
	return ok, nil
}

// StaticBlocklist is a fixed denial set.
type StaticBlocklist struct {
	mu      sync.Mutex
	members map[common.Address]struct{}
}

// NewStaticBlocklist builds a blocklist from the given members.
func NewStaticBlocklist(members ...common.Address) *StaticBlocklist {
	set := make(map[common.Address]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &StaticBlocklist{members: set}
}

// Add denies an address.
func (b *StaticBlocklist) Add(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[addr] = struct{}{}
}

func (b *StaticBlocklist) IsBlocked(ctx context.Context, addr common.Address) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.members[addr]
	return ok, nil
}

var (
	_ Allowlist = (*StaticAllowlist)(nil)
	_ Blocklist = (*StaticBlocklist)(nil)
)
