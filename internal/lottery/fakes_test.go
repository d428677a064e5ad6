package lottery_test

import (
	"errors"
	"fmt"

	"TokenLottery/internal/lottery"
)

type fakeFunds struct {
	balances map[lottery.Account]uint64
	calls    int
}

func newFakeFunds() *fakeFunds {
	return &fakeFunds{balances: make(map[lottery.Account]uint64)}
}

func (f *fakeFunds) Transfer(from, to lottery.Account, amount uint64) error {
	f.calls++
	if from.Kind != lottery.AccountExternal && f.balances[from] < amount {
		return lottery.ErrInsufficientFunds.Withf("%v has %d, needs %d", from, f.balances[from], amount)
	}
	if from.Kind != lottery.AccountExternal {
		f.balances[from] -= amount
	}
	f.balances[to] += amount
	return nil
}

type fakeAssets struct {
	assets   map[lottery.AssetID]lottery.Asset
	holdings map[string]map[lottery.AssetID]uint64
	nextID   int
	failMint bool
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		assets:   make(map[lottery.AssetID]lottery.Asset),
		holdings: make(map[string]map[lottery.AssetID]uint64),
	}
}

func (f *fakeAssets) Mint(owner string, spec lottery.AssetSpec) (lottery.AssetID, error) {
	if f.failMint {
		return "", errors.New("mint unavailable")
	}
	id := lottery.AssetID(fmt.Sprintf("asset-%d", f.nextID))
	f.nextID++
	f.assets[id] = lottery.Asset{
		ID:           id,
		Identity:     spec.Identity,
		Name:         spec.Name,
		Symbol:       spec.Symbol,
		URI:          spec.URI,
		Collection:   spec.Collection,
		Verified:     spec.Collection != "",
		IsCollection: spec.IsCollection,
	}
	f.give(owner, id)
	return id, nil
}

func (f *fakeAssets) give(owner string, id lottery.AssetID) {
	if f.holdings[owner] == nil {
		f.holdings[owner] = make(map[lottery.AssetID]uint64)
	}
	f.holdings[owner][id]++
}

func (f *fakeAssets) move(from, to string, id lottery.AssetID) {
	f.holdings[from][id]--
	f.give(to, id)
}

func (f *fakeAssets) Lookup(id lottery.AssetID) (lottery.Asset, bool) {
	a, ok := f.assets[id]
	return a, ok
}

func (f *fakeAssets) VerifyMembership(id, group lottery.AssetID) bool {
	a, ok := f.assets[id]
	return ok && a.Verified && a.Collection == group
}

func (f *fakeAssets) BalanceOf(owner string, id lottery.AssetID) uint64 {
	return f.holdings[owner][id]
}

type fakeRequest struct {
	created  uint64
	value    [32]byte
	resolved bool
}

type fakeOracle struct {
	requests map[string]*fakeRequest
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{requests: make(map[string]*fakeRequest)}
}

func (f *fakeOracle) request(handle string, round uint64) {
	f.requests[handle] = &fakeRequest{created: round}
}

func (f *fakeOracle) fulfil(handle string, first byte) {
	r := f.requests[handle]
	r.value = [32]byte{first}
	r.resolved = true
}

func (f *fakeOracle) RequestCreatedAt(handle string) (uint64, error) {
	r, ok := f.requests[handle]
	if !ok {
		return 0, fmt.Errorf("unknown request %s", handle)
	}
	return r.created, nil
}

func (f *fakeOracle) Resolve(handle string, atRound uint64) ([32]byte, bool, error) {
	r, ok := f.requests[handle]
	if !ok {
		return [32]byte{}, false, fmt.Errorf("unknown request %s", handle)
	}
	if !r.resolved || atRound <= r.created {
		return [32]byte{}, false, nil
	}
	return r.value, true, nil
}
