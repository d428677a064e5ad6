package assets

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"TokenLottery/internal/lottery"

	"github.com/google/uuid"
)

var assetNamespace = uuid.MustParse("2b7e1516-28ae-4d2a-a6f7-15880928cf4f")

var (
	ErrAssetExists  = errors.New("asset already minted")
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNotHolder    = errors.New("caller does not hold asset")
)

// Holding pairs a minted asset with its current holder.
type Holding struct {
	Asset lottery.Asset `json:"asset"`
	Owner string        `json:"owner"`
}

// Registry is the in-memory asset-issuance service for one lottery. Every
// asset is non-fungible: it has exactly one holder with a balance of 1.
//
// Writes go through a Tx so a failed operation leaves the registry unchanged.
// Reads are safe from any goroutine; writes come only from the core.
type Registry struct {
	mu        sync.RWMutex
	lotteryID string
	assets    map[lottery.AssetID]lottery.Asset
	holders   map[lottery.AssetID]string
}

func NewRegistry(lotteryID string) *Registry {
	return &Registry{
		lotteryID: lotteryID,
		assets:    make(map[lottery.AssetID]lottery.Asset),
		holders:   make(map[lottery.AssetID]string),
	}
}

// CollectionID returns the deterministic id of the lottery's collection asset.
func CollectionID(lotteryID string) lottery.AssetID {
	return lottery.AssetID(uuid.NewSHA1(assetNamespace, []byte(lotteryID+":collection")).String())
}

// TicketAssetID returns the deterministic id of ticket n of a lottery.
func TicketAssetID(lotteryID string, n uint64) lottery.AssetID {
	return lottery.AssetID(uuid.NewSHA1(assetNamespace, []byte(lotteryID+":ticket:"+strconv.FormatUint(n, 10))).String())
}

func (r *Registry) Lookup(id lottery.AssetID) (lottery.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

// HolderOf returns the current holder of id.
func (r *Registry) HolderOf(id lottery.AssetID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.holders[id]
	return owner, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Snapshot returns every holding ordered by asset id.
func (r *Registry) Snapshot() []Holding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Holding, 0, len(r.assets))
	for id, a := range r.assets {
		out = append(out, Holding{Asset: a, Owner: r.holders[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.ID < out[j].Asset.ID })
	return out
}

// Restore replaces registry contents (used during snapshot restore).
func (r *Registry) Restore(holdings []Holding) error {
	assets := make(map[lottery.AssetID]lottery.Asset, len(holdings))
	holders := make(map[lottery.AssetID]string, len(holdings))
	for _, h := range holdings {
		if _, dup := assets[h.Asset.ID]; dup {
			return fmt.Errorf("restore: %w: %s", ErrAssetExists, h.Asset.ID)
		}
		assets[h.Asset.ID] = h.Asset
		holders[h.Asset.ID] = h.Owner
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = assets
	r.holders = holders
	return nil
}

// Begin opens a write buffer over the registry.
func (r *Registry) Begin() *Tx {
	return &Tx{
		reg:     r,
		minted:  make(map[lottery.AssetID]lottery.Asset),
		holders: make(map[lottery.AssetID]string),
	}
}

// Tx buffers mints and transfers. It implements lottery.AssetIssuer so the
// state machine reads its own staged writes.
type Tx struct {
	reg     *Registry
	minted  map[lottery.AssetID]lottery.Asset
	order   []lottery.AssetID
	holders map[lottery.AssetID]string
}

var _ lottery.AssetIssuer = (*Tx)(nil)

func (tx *Tx) Mint(owner string, spec lottery.AssetSpec) (lottery.AssetID, error) {
	var id lottery.AssetID
	if spec.IsCollection {
		id = CollectionID(tx.reg.lotteryID)
	} else {
		if spec.Collection == "" {
			return "", fmt.Errorf("ticket %d minted outside a collection", spec.Identity)
		}
		if _, ok := tx.Lookup(spec.Collection); !ok {
			return "", fmt.Errorf("%w: collection %s", ErrUnknownAsset, spec.Collection)
		}
		id = TicketAssetID(tx.reg.lotteryID, spec.Identity)
	}
	if _, ok := tx.Lookup(id); ok {
		return "", fmt.Errorf("%w: %s", ErrAssetExists, id)
	}

	tx.minted[id] = lottery.Asset{
		ID:           id,
		Identity:     spec.Identity,
		Name:         spec.Name,
		Symbol:       spec.Symbol,
		URI:          spec.URI,
		Collection:   spec.Collection,
		Verified:     spec.Collection != "",
		IsCollection: spec.IsCollection,
	}
	tx.order = append(tx.order, id)
	tx.holders[id] = owner
	return id, nil
}

func (tx *Tx) Lookup(id lottery.AssetID) (lottery.Asset, bool) {
	if a, ok := tx.minted[id]; ok {
		return a, true
	}
	return tx.reg.Lookup(id)
}

func (tx *Tx) VerifyMembership(id lottery.AssetID, group lottery.AssetID) bool {
	a, ok := tx.Lookup(id)
	return ok && !a.IsCollection && a.Verified && a.Collection == group
}

func (tx *Tx) BalanceOf(owner string, id lottery.AssetID) uint64 {
	if holder, ok := tx.holder(id); ok && holder == owner {
		return 1
	}
	return 0
}

func (tx *Tx) holder(id lottery.AssetID) (string, bool) {
	if h, ok := tx.holders[id]; ok {
		return h, true
	}
	return tx.reg.HolderOf(id)
}

// Transfer moves a ticket between participants. Collections never move.
func (tx *Tx) Transfer(from, to string, id lottery.AssetID) error {
	a, ok := tx.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	if a.IsCollection {
		return fmt.Errorf("collection %s is not transferable", id)
	}
	if to == "" || to == from {
		return fmt.Errorf("invalid recipient %q", to)
	}
	if holder, _ := tx.holder(id); holder != from {
		return fmt.Errorf("%w: %s does not hold %s", ErrNotHolder, from, id)
	}
	tx.holders[id] = to
	return nil
}

// Minted returns the assets staged by this Tx in mint order.
func (tx *Tx) Minted() []lottery.Asset {
	out := make([]lottery.Asset, 0, len(tx.order))
	for _, id := range tx.order {
		out = append(out, tx.minted[id])
	}
	return out
}

// Commit publishes the buffered writes to the registry.
func (tx *Tx) Commit() {
	tx.reg.mu.Lock()
	defer tx.reg.mu.Unlock()
	for id, a := range tx.minted {
		tx.reg.assets[id] = a
	}
	for id, owner := range tx.holders {
		tx.reg.holders[id] = owner
	}
}
