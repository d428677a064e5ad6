package oracle

import (
	"errors"
	"fmt"
	"sort"

	"TokenLottery/internal/lottery"
)

var (
	ErrUnknownRequest   = errors.New("unknown randomness request")
	ErrDuplicateRequest = errors.New("randomness request already exists")
	ErrEarlyFulfilment  = errors.New("fulfilment before request round has passed")
	ErrAlreadyFulfilled = errors.New("randomness request already fulfilled")
	ErrSeedMismatch     = errors.New("server seed does not match commitment")
	ErrNoCommitment     = errors.New("randomness request carries no seed commitment")
)

// Request is one randomness request as seen by the lottery.
type Request struct {
	Handle         string   `json:"handle"`
	CreatedAt      uint64   `json:"created_at"`
	SeedCommitment string   `json:"seed_commitment,omitempty"`
	Fulfilled      bool     `json:"fulfilled"`
	FulfilledAt    uint64   `json:"fulfilled_at,omitempty"`
	Value          [32]byte `json:"value"`
}

// Book is the request table built from the oracle feed. It implements
// lottery.Oracle. Only the core goroutine touches it.
type Book struct {
	requests         map[string]*Request
	allowUncommitted bool
}

var _ lottery.Oracle = (*Book)(nil)

type BookOption func(*Book)

// WithUncommittedRequests accepts requests that carry no seed commitment.
// Their fulfilments cannot be verified, so whoever can publish on the
// fulfilment feed chooses the value.
func WithUncommittedRequests() BookOption {
	return func(b *Book) { b.allowUncommitted = true }
}

// NewBook returns an empty book. By default every request must carry a seed
// commitment and every fulfilment must open it.
func NewBook(opts ...BookOption) *Book {
	b := &Book{requests: make(map[string]*Request)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Request records a new request created at round.
func (b *Book) Request(handle string, round uint64, commitment string) error {
	if handle == "" {
		return fmt.Errorf("%w: empty handle", ErrUnknownRequest)
	}
	if commitment == "" && !b.allowUncommitted {
		return fmt.Errorf("%w: %s", ErrNoCommitment, handle)
	}
	if _, ok := b.requests[handle]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, handle)
	}
	b.requests[handle] = &Request{Handle: handle, CreatedAt: round, SeedCommitment: commitment}
	return nil
}

// Fulfil resolves a request at round. When the request carries a seed
// commitment, serverSeed must open it and value must be the beacon output.
func (b *Book) Fulfil(handle string, value [32]byte, serverSeed []byte, round uint64) error {
	r, ok := b.requests[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
	}
	if r.Fulfilled {
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, handle)
	}
	if round < r.CreatedAt+1 {
		return fmt.Errorf("%w: %s created at %d, fulfilled at %d", ErrEarlyFulfilment, handle, r.CreatedAt, round)
	}
	if r.SeedCommitment != "" {
		if err := Verify(serverSeed, r.SeedCommitment, handle, r.CreatedAt, value); err != nil {
			return err
		}
	}

	r.Fulfilled = true
	r.FulfilledAt = round
	r.Value = value
	return nil
}

func (b *Book) RequestCreatedAt(handle string) (uint64, error) {
	r, ok := b.requests[handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
	}
	return r.CreatedAt, nil
}

func (b *Book) Resolve(handle string, atRound uint64) ([32]byte, bool, error) {
	r, ok := b.requests[handle]
	if !ok {
		return [32]byte{}, false, fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
	}
	if !r.Fulfilled || atRound <= r.CreatedAt {
		return [32]byte{}, false, nil
	}
	return r.Value, true, nil
}

// Get returns a copy of the request for handle.
func (b *Book) Get(handle string) (Request, bool) {
	r, ok := b.requests[handle]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// Snapshot returns all requests ordered by handle.
func (b *Book) Snapshot() []Request {
	out := make([]Request, 0, len(b.requests))
	for _, r := range b.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Restore replaces the book contents (used during snapshot restore).
func (b *Book) Restore(requests []Request) error {
	m := make(map[string]*Request, len(requests))
	for i := range requests {
		r := requests[i]
		if _, dup := m[r.Handle]; dup {
			return fmt.Errorf("restore: %w: %s", ErrDuplicateRequest, r.Handle)
		}
		m[r.Handle] = &r
	}
	b.requests = m
	return nil
}
