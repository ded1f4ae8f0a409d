package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope is the top-level account namespace.
type AccountScope uint8

const (
	// ScopeUser is a holder's external wallet balance.
	ScopeUser AccountScope = iota
	// ScopePool is the engine's per-asset reserve vault.
	ScopePool
	// ScopeExternal is the boundary account funding the system (mints,
	// off-system deposits). It is the only scope allowed to go negative.
	ScopeExternal
)

// AccountKey identifies a balance bucket.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // holder UUID for user scope, zero otherwise
	Asset    string
}

// NewUserAccountKey keys a holder's wallet balance for an asset.
func NewUserAccountKey(holder uuid.UUID, asset string) AccountKey {
	return AccountKey{Scope: ScopeUser, EntityID: holder, Asset: asset}
}

// NewPoolAccountKey keys the reserve vault for an asset.
func NewPoolAccountKey(asset string) AccountKey {
	return AccountKey{Scope: ScopePool, Asset: asset}
}

// NewExternalAccountKey keys the external boundary account for an asset.
func NewExternalAccountKey(asset string) AccountKey {
	return AccountKey{Scope: ScopeExternal, Asset: asset}
}

// AccountPath renders the key for storage and logging.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case ScopeUser:
		return fmt.Sprintf("user:%s:%s", uuid.UUID(k.EntityID).String(), k.Asset)
	case ScopePool:
		return fmt.Sprintf("pool:%s", k.Asset)
	case ScopeExternal:
		return fmt.Sprintf("external:%s", k.Asset)
	}
	return "unknown"
}
