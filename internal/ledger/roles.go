package ledger

import (
	"github.com/ethereum/go-ethereum/common"
)

// Role identifies a capability required by a mutating entry point.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleManagerAdmin    Role = "MANAGER_ADMIN"
	RolePauser          Role = "PAUSER"
	RoleRelayer         Role = "RELAYER"
	RolePriceIDSetter   Role = "PRICE_ID_SETTER"
	RoleTimestampSetter Role = "TIMESTAMP_SETTER"
)

// gate maps (caller, role) to allow/deny and carries the pause switch. It is
// not safe for concurrent use on its own; the manager lock covers it.
type gate struct {
	grants map[Role]map[common.Address]struct{}
	paused bool
}

func newGate() *gate {
	return &gate{grants: make(map[Role]map[common.Address]struct{})}
}

func (g *gate) grant(role Role, addr common.Address) {
	holders, ok := g.grants[role]
	if !ok {
		holders = make(map[common.Address]struct{})
		g.grants[role] = holders
	}
	holders[addr] = struct{}{}
}

func (g *gate) revoke(role Role, addr common.Address) {
	delete(g.grants[role], addr)
}

func (g *gate) has(role Role, addr common.Address) bool {
	_, ok := g.grants[role][addr]
	return ok
}

// require fails with ErrUnauthorized unless the caller holds the role. Admin
// implies every other role so a single operator key can bootstrap.
func (g *gate) require(role Role, caller common.Address) error {
	if g.has(role, caller) {
		return nil
	}
	if role != RoleAdmin && g.has(RoleAdmin, caller) {
		return nil
	}
	return ErrUnauthorized
}

// requireActive rejects request/claim/settlement traffic while paused.
// Configuration entry points skip this so the admin can remediate.
func (g *gate) requireActive() error {
	if g.paused {
		return ErrPaused
	}
	return nil
}
