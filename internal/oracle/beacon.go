package oracle

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// SeedSize is the length of a freshly generated server seed.
const SeedSize = 32

// Derive computes the beacon output for a request: the first 32 bytes of
// HMAC-SHA512(serverSeed, handle ":" round).
func Derive(serverSeed []byte, handle string, round uint64) [32]byte {
	h := hmac.New(sha512.New, serverSeed)
	h.Write([]byte(handle + ":" + strconv.FormatUint(round, 10)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Commitment is the hex SHA-256 of a server seed, published before the seed.
func Commitment(serverSeed []byte) string {
	sum := sha256.Sum256(serverSeed)
	return hex.EncodeToString(sum[:])
}

// Verify checks that serverSeed opens commitment and that value is the beacon
// output for (handle, round).
func Verify(serverSeed []byte, commitment, handle string, round uint64, value [32]byte) error {
	if Commitment(serverSeed) != commitment {
		return fmt.Errorf("%w: %s", ErrSeedMismatch, handle)
	}
	if want := Derive(serverSeed, handle, round); !hmac.Equal(want[:], value[:]) {
		return fmt.Errorf("%w: %s value does not match seed", ErrSeedMismatch, handle)
	}
	return nil
}

// Beacon issues and fulfils provably-fair randomness requests. Seeds live in
// a SeedStore until they are revealed.
type Beacon struct {
	store   *SeedStore
	entropy io.Reader
}

func NewBeacon(store *SeedStore, entropy io.Reader) *Beacon {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Beacon{store: store, entropy: entropy}
}

// Request draws a new server seed for handle at round and persists it.
func (b *Beacon) Request(handle string, round uint64) (SeedRecord, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(b.entropy, seed); err != nil {
		return SeedRecord{}, fmt.Errorf("draw seed: %w", err)
	}
	rec := SeedRecord{
		Handle:     handle,
		Round:      round,
		Seed:       hex.EncodeToString(seed),
		Commitment: Commitment(seed),
	}
	if err := b.store.Put(rec); err != nil {
		return SeedRecord{}, err
	}
	return rec, nil
}

// Fulfil reveals the seed for handle and returns the derived value.
func (b *Beacon) Fulfil(handle string) ([32]byte, []byte, error) {
	rec, err := b.store.Get(handle)
	if err != nil {
		return [32]byte{}, nil, err
	}
	seed, err := hex.DecodeString(rec.Seed)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("decode seed for %s: %w", handle, err)
	}
	if err := b.store.MarkRevealed(handle); err != nil {
		return [32]byte{}, nil, err
	}
	return Derive(seed, handle, rec.Round), seed, nil
}

// Due lists unrevealed requests created strictly before round.
func (b *Beacon) Due(round uint64) ([]SeedRecord, error) {
	return b.store.Unrevealed(round)
}
