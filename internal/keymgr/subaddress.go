package keymgr

import (
	"fmt"
	"sync"

	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// Account indices, per §3's sub-address model. Accounts 0.. are ordinary
// receiving accounts; -1 holds change outputs; -2 is a reserved secondary
// pool the facade can draw from without exposing it as a receive account.
const (
	AccountChange        int32 = -1
	AccountReservedPool  int32 = -2
	AccountReceivingBase int32 = 0
)

// DefaultLookahead is the number of addresses kept pre-derived per account
// so incoming outputs can be matched without a just-in-time derivation.
const DefaultLookahead = 50

// SubAddress is one derived (account, address) leaf: its keys and the
// hash_id the sync engine matches against parsed outputs.
type SubAddress struct {
	Account    int32
	Address    uint64
	HashID     types.Address
	BlindingPK cryptoadapter.Point
	SpendingPK cryptoadapter.Point
}

// Manager holds the wallet's master keys and the pool of derived
// sub-addresses used for ownership detection (§4.B's is_mine_by_keys).
type Manager struct {
	adapter cryptoadapter.Adapter
	keys    *MasterKeys

	mu       sync.RWMutex
	byHashID map[types.Address]SubAddress
	nextAddr map[int32]uint64 // next address index to derive, per account.
}

// NewManager builds a Manager from already-derived master keys.
func NewManager(adapter cryptoadapter.Adapter, keys *MasterKeys) *Manager {
	return &Manager{
		adapter:  adapter,
		keys:     keys,
		byHashID: make(map[types.Address]SubAddress),
		nextAddr: make(map[int32]uint64),
	}
}

// spendPK returns the wallet's root spend public key, used as the base for
// every sub-address's blinding/spending key pair.
func (m *Manager) spendPK() (cryptoadapter.Point, error) {
	return m.adapter.SKToPK(m.keys.SpendKey)
}

// DeriveSubAddress derives the (account, address) leaf and registers it in
// the ownership-detection pool. Re-deriving an already-registered leaf is a
// no-op that returns the cached value.
func (m *Manager) DeriveSubAddress(account int32, address uint64) (SubAddress, error) {
	spendPK, err := m.spendPK()
	if err != nil {
		return SubAddress{}, fmt.Errorf("spend pubkey: %w", err)
	}

	blindingPK, spendingPK, err := m.adapter.SubAddress(m.keys.ViewKey, spendPK, account, address)
	if err != nil {
		return SubAddress{}, fmt.Errorf("derive sub-address account=%d address=%d: %w", account, address, err)
	}

	hashID, err := m.adapter.HashID(blindingPK, spendingPK, m.keys.ViewKey)
	if err != nil {
		return SubAddress{}, fmt.Errorf("hash id: %w", err)
	}

	sub := SubAddress{
		Account:    account,
		Address:    address,
		HashID:     hashID,
		BlindingPK: blindingPK,
		SpendingPK: spendingPK,
	}

	m.mu.Lock()
	m.byHashID[hashID] = sub
	if address >= m.nextAddr[account] {
		m.nextAddr[account] = address + 1
	}
	m.mu.Unlock()

	return sub, nil
}

// GenerateNewSubAddress implements §4.B's generate_new_sub_address: it
// derives and registers the next not-yet-issued leaf for account, advancing
// that account's counter. Callers that want a fresh receive address ahead
// of the lookahead pool (rather than reusing one EnsurePool already
// pre-derived) use this directly.
func (m *Manager) GenerateNewSubAddress(account int32) (SubAddress, error) {
	m.mu.RLock()
	next := m.nextAddr[account]
	m.mu.RUnlock()
	return m.DeriveSubAddress(account, next)
}

// EnsurePool derives addresses 0..lookahead-1 for account, skipping any
// already derived, so is_mine_by_keys can match incoming outputs without a
// just-in-time derivation on the hot path.
func (m *Manager) EnsurePool(account int32, lookahead uint64) error {
	m.mu.RLock()
	next := m.nextAddr[account]
	m.mu.RUnlock()

	for addr := next; addr < lookahead; addr++ {
		if _, err := m.DeriveSubAddress(account, addr); err != nil {
			return fmt.Errorf("ensure pool account=%d address=%d: %w", account, addr, err)
		}
	}
	return nil
}

// IsMineByKeys implements §4.B's ownership test: it first cheaply rejects
// outputs whose view tag doesn't match this wallet's view key, then — only
// on a tag match — computes the full hash_id and looks it up in the
// derived sub-address pool. Returns the owning sub-address and true when
// the output belongs to this wallet.
func (m *Manager) IsMineByKeys(blindingPK, spendingPK cryptoadapter.Point, viewTag uint16) (SubAddress, bool, error) {
	computedTag, err := m.adapter.ViewTag(blindingPK, m.keys.ViewKey)
	if err != nil {
		return SubAddress{}, false, fmt.Errorf("compute view tag: %w", err)
	}
	if computedTag != viewTag {
		return SubAddress{}, false, nil
	}

	hashID, err := m.adapter.HashID(blindingPK, spendingPK, m.keys.ViewKey)
	if err != nil {
		return SubAddress{}, false, fmt.Errorf("hash id: %w", err)
	}

	m.mu.RLock()
	sub, ok := m.byHashID[hashID]
	m.mu.RUnlock()
	return sub, ok, nil
}

// Nonce returns the shared secret for an output's blinding key, used to
// recover its amount and memo from the range proof.
func (m *Manager) Nonce(blindingPK cryptoadapter.Point) (cryptoadapter.Point, error) {
	return m.adapter.Nonce(blindingPK, m.keys.ViewKey)
}

// PrivateSpendingKey derives the one-time spending secret for a sub-address
// leaf, used to sign an input that spends an output sent to it.
func (m *Manager) PrivateSpendingKey(blindingPK cryptoadapter.Point, account int32, address uint64) (cryptoadapter.Scalar, error) {
	return m.adapter.PrivateSpendingKey(blindingPK, m.keys.ViewKey, m.keys.SpendKey, account, address)
}

// ViewPublicKey returns the wallet's public view key, the one fixed point
// (across every sub-address) a sender needs to derive the shared secret
// for an output built for this wallet.
func (m *Manager) ViewPublicKey() (cryptoadapter.Point, error) {
	return m.adapter.SKToPK(m.keys.ViewKey)
}

// Destination is the externally-shareable form of a SubAddress: everything
// a sender needs to build an output for this wallet, with no private
// material. This is what an encoded address string carries.
type Destination struct {
	ViewPK     cryptoadapter.Point
	BlindingPK cryptoadapter.Point
	SpendingPK cryptoadapter.Point
}

// DestinationFor builds the shareable Destination for an already-derived
// sub-address leaf.
func (m *Manager) DestinationFor(sub SubAddress) (Destination, error) {
	viewPK, err := m.ViewPublicKey()
	if err != nil {
		return Destination{}, fmt.Errorf("view pubkey: %w", err)
	}
	return Destination{ViewPK: viewPK, BlindingPK: sub.BlindingPK, SpendingPK: sub.SpendingPK}, nil
}
