package lottery

// AccountKind distinguishes the parties the value-transfer service moves funds between.
type AccountKind uint8

const (
	AccountWallet AccountKind = iota
	AccountPot
	AccountExternal
)

// Account names one side of a value transfer.
type Account struct {
	Kind  AccountKind
	Owner string
}

func Wallet(owner string) Account { return Account{Kind: AccountWallet, Owner: owner} }

func Pot(lotteryID string) Account { return Account{Kind: AccountPot, Owner: lotteryID} }

// External is the boundary account funds enter and leave the system through.
func External() Account { return Account{Kind: AccountExternal} }

// ValueTransfer moves funds. Transfer fails with ErrInsufficientFunds when the
// source cannot cover the amount; otherwise it is atomic and final.
type ValueTransfer interface {
	Transfer(from, to Account, amount uint64) error
}

// AssetID identifies a non-fungible asset held by the asset-issuance service.
type AssetID string

// AssetSpec describes an asset to mint.
type AssetSpec struct {
	Identity     uint64
	Name         string
	Symbol       string
	URI          string
	Collection   AssetID
	IsCollection bool
}

// Asset is the issuance service's view of a minted asset. Verified is true once
// the collection authority has attested the asset's membership in Collection.
type Asset struct {
	ID           AssetID `json:"id"`
	Identity     uint64  `json:"identity"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	URI          string  `json:"uri"`
	Collection   AssetID `json:"collection,omitempty"`
	Verified     bool    `json:"verified"`
	IsCollection bool    `json:"is_collection"`
}

// AssetIssuer mints ticket and collection assets and answers identity,
// membership and ownership questions about them.
type AssetIssuer interface {
	Mint(owner string, spec AssetSpec) (AssetID, error)
	Lookup(id AssetID) (Asset, bool)
	VerifyMembership(id AssetID, group AssetID) bool
	BalanceOf(owner string, id AssetID) uint64
}

// Oracle is the randomness service. Resolve reports resolved=false while the
// request has not been fulfilled for atRound.
type Oracle interface {
	RequestCreatedAt(handle string) (round uint64, err error)
	Resolve(handle string, atRound uint64) (value [32]byte, resolved bool, err error)
}

// Env bundles the collaborators one operation runs against. The deterministic
// core hands in staged implementations so a failed operation leaves no trace.
type Env struct {
	Funds  ValueTransfer
	Assets AssetIssuer
	Oracle Oracle
}
