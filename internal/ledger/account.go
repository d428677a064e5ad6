package ledger

import (
	"fmt"
	"strings"

	"TokenLottery/internal/lottery"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeLottery
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Lottery sub-types
	SubTypePot

	// External sub-types
	SubTypeCustody
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDT": 1,
		"USDC": 2,
		"SOL":  3,
		"ETH":  4,
	}
	idToAsset = map[AssetID]string{
		1: "USDT",
		2: "USDC",
		3: "SOL",
		4: "ETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Owner   string // participant identity, lottery id, or empty for custody
	SubType AccountSubType
	AssetID AssetID
}

// NewUserAccountKey creates a key for a participant wallet
func NewUserAccountKey(owner string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

// NewPotAccountKey creates the key for a lottery's prize pot
func NewPotAccountKey(lotteryID string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeLottery,
		Owner:   lotteryID,
		SubType: SubTypePot,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for the custody boundary account
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeCustody,
		AssetID: assetID,
	}
}

// KeyFor maps a value-transfer party onto its ledger account.
func KeyFor(acct lottery.Account, assetID AssetID) AccountKey {
	switch acct.Kind {
	case lottery.AccountPot:
		return NewPotAccountKey(acct.Owner, assetID)
	case lottery.AccountExternal:
		return NewExternalAccountKey(assetID)
	default:
		return NewUserAccountKey(acct.Owner, assetID)
	}
}

// MayGoNegative reports whether the account is a boundary account whose
// balance mirrors funds held outside the ledger.
func (k AccountKey) MayGoNegative() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging.
// The owner is last so identities containing ':' survive ParseAccountPath.
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.subTypeName(), assetName, k.Owner)
	case AccountScopeLottery:
		return fmt.Sprintf("lottery:%s:%s:%s", k.subTypeName(), assetName, k.Owner)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.SplitN(path, ":", 4)
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	assetID, ok := GetAssetID(parts[2])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in account path %q", path)
	}

	switch parts[0] {
	case "user":
		if len(parts) != 4 || parts[1] != "wallet" {
			return AccountKey{}, fmt.Errorf("malformed user account path %q", path)
		}
		return NewUserAccountKey(parts[3], assetID), nil
	case "lottery":
		if len(parts) != 4 || parts[1] != "pot" {
			return AccountKey{}, fmt.Errorf("malformed lottery account path %q", path)
		}
		return NewPotAccountKey(parts[3], assetID), nil
	case "external":
		if parts[1] != "custody" {
			return AccountKey{}, fmt.Errorf("malformed external account path %q", path)
		}
		return NewExternalAccountKey(assetID), nil
	}
	return AccountKey{}, fmt.Errorf("unknown account scope in %q", path)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypePot:
		return "pot"
	case SubTypeCustody:
		return "custody"
	default:
		return "unknown"
	}
}
