package event

// OraclePartition orders the randomness feed.
const OraclePartition = "oracle"

// RandomnessRequested registers an oracle request created at Meta.Slot.
type RandomnessRequested struct {
	Meta
	Handle string `json:"handle"`
	// SeedCommitment is the SHA-256 of the server seed that will answer the request.
	SeedCommitment string `json:"seed_commitment,omitempty"`
}

func (e *RandomnessRequested) EventType() EventType { return EventTypeRandomnessRequested }

func (e *RandomnessRequested) Partition() string { return OraclePartition }

// RandomnessFulfilled resolves a request at Meta.Slot. Value is hex encoded, 32 bytes.
type RandomnessFulfilled struct {
	Meta
	Handle     string `json:"handle"`
	Value      string `json:"value"`
	ServerSeed string `json:"server_seed,omitempty"`
}

func (e *RandomnessFulfilled) EventType() EventType { return EventTypeRandomnessFulfilled }

func (e *RandomnessFulfilled) Partition() string { return OraclePartition }
