package domain

import (
	"encoding/hex"
	"fmt"
	"time"
)

// TierID identifies one level of the cache hierarchy.
type TierID string

// Cache tiers.
const (
	TierResult    TierID = "result"
	TierFeature   TierID = "feature"
	TierAlignment TierID = "alignment"
	TierWeights   TierID = "weights"
)

// TierOrder is the fixed probe order. The result tier subsumes the others
// for identical keys, so it is consulted first.
func TierOrder() []TierID {
	return []TierID{TierResult, TierFeature, TierAlignment, TierWeights}
}

// IsValid returns true if the tier is recognised.
func (t TierID) IsValid() bool {
	switch t {
	case TierResult, TierFeature, TierAlignment, TierWeights:
		return true
	default:
		return false
	}
}

// Rank returns the tier's position in TierOrder, or -1.
func (t TierID) Rank() int {
	for i, id := range TierOrder() {
		if id == t {
			return i
		}
	}
	return -1
}

// TierPolicy fixes the lifetime rules of a tier.
type TierPolicy struct {
	Tier TierID

	// TTL is the entry lifetime. Zero means persistent until invalidated.
	TTL time.Duration

	// Versioned entries are tagged with the model version and removed
	// when the version changes.
	Versioned bool
}

// DefaultTierPolicies returns the shipped tier policies.
func DefaultTierPolicies() map[TierID]TierPolicy {
	return map[TierID]TierPolicy{
		TierResult:    {Tier: TierResult, TTL: 15 * time.Minute, Versioned: true},
		TierFeature:   {Tier: TierFeature, TTL: 24 * time.Hour, Versioned: true},
		TierAlignment: {Tier: TierAlignment, TTL: 0, Versioned: false},
		TierWeights:   {Tier: TierWeights, TTL: 0, Versioned: true},
	}
}

// CacheKey is a fixed-length digest of canonicalized inputs.
// It is a value type; once computed it cannot change.
type CacheKey [32]byte

// String returns the lower-case hex form used by backends.
func (k CacheKey) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns an abbreviated form for logs.
func (k CacheKey) Short() string {
	return k.String()[:12]
}

// IsZero reports whether the key was never computed.
func (k CacheKey) IsZero() bool {
	return k == CacheKey{}
}

// ParseCacheKey decodes the hex form produced by String.
func ParseCacheKey(s string) (CacheKey, error) {
	var k CacheKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: cache key: %w", ErrInvalidInput, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("%w: cache key must be %d bytes, got %d", ErrInvalidInput, len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyMaterial is everything that determines a prediction result.
// Sequences must already be normalized and sorted; see NormalizeSequence.
type KeyMaterial struct {
	FormatVersion    int                `json:"format_version"`
	Sequences        []string           `json:"sequences"`
	ModelVersion     string             `json:"model_version"`
	Mode             Mode               `json:"mode"`
	Precision        EffectivePrecision `json:"precision"`
	ConstraintDigest string             `json:"constraint_digest"`
	Seed             int64              `json:"seed"`
}

// CacheEntry is a single cached payload. Entries are owned by the tier that
// stores them and are replaced wholesale, never mutated in place.
type CacheEntry struct {
	Key       string
	Tier      TierID
	Payload   []byte
	Version   string
	CreatedAt time.Time

	// ExpiresAt is zero for persistent entries.
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// Clone returns a copy that shares no memory with e.
func (e CacheEntry) Clone() CacheEntry {
	out := e
	if e.Payload != nil {
		out.Payload = append([]byte(nil), e.Payload...)
	}
	return out
}

// PurgeFilter selects entries for bulk removal. Both conditions are ORed.
type PurgeFilter struct {
	// ExpiredAt removes entries whose ExpiresAt is set and not after it.
	ExpiredAt time.Time

	// KeepVersion removes tagged entries whose Version differs.
	// Empty disables version filtering.
	KeepVersion string
}

// Matches reports whether e should be purged.
func (f PurgeFilter) Matches(e CacheEntry) bool {
	if !f.ExpiredAt.IsZero() && e.Expired(f.ExpiredAt) {
		return true
	}
	if f.KeepVersion != "" && e.Version != "" && e.Version != f.KeepVersion {
		return true
	}
	return false
}

// TierStats counts tier activity since process start.
type TierStats struct {
	Tier      TierID `json:"tier"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Expired   int64  `json:"expired"`
	Stores    int64  `json:"stores"`
	Errors    int64  `json:"errors"`
	Coalesced int64  `json:"coalesced"`
}

// FetchSource tells how a Fetch obtained its payload.
type FetchSource int

// Fetch sources.
const (
	// FetchComputed means this caller led the computation.
	FetchComputed FetchSource = iota
	// FetchCached means the payload came from the tier.
	FetchCached
	// FetchShared means the caller attached to another caller's computation.
	FetchShared
)

// String returns the source name.
func (s FetchSource) String() string {
	switch s {
	case FetchCached:
		return "cached"
	case FetchShared:
		return "shared"
	default:
		return "computed"
	}
}
