package consensus

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Attestor verifies that a submission genuinely originates from the claimed
// source before it is accepted into the round. A rejection draws the
// verification-failure penalty on the source.
type Attestor interface {
	Verify(sourceID string, price int64, roundID uint64, signature []byte) error
}

// AcceptAll trusts every submission. Used when transport-level authentication
// already identifies the source.
type AcceptAll struct{}

func (AcceptAll) Verify(string, int64, uint64, []byte) error { return nil }

// ErrBadSignature is returned by the ed25519 attestor for missing keys or
// signatures that do not verify.
var ErrBadSignature = errors.New("signature verification failed")

// Ed25519Attestor checks detached ed25519 signatures over the canonical
// submission message "<source>|<round>|<price>".
type Ed25519Attestor struct {
	keys map[string]ed25519.PublicKey
}

// NewEd25519Attestor builds an attestor over a static key registry.
func NewEd25519Attestor(keys map[string]ed25519.PublicKey) *Ed25519Attestor {
	cloned := make(map[string]ed25519.PublicKey, len(keys))
	for id, key := range keys {
		cloned[id] = key
	}
	return &Ed25519Attestor{keys: cloned}
}

// SubmissionMessage is the byte string a source signs for one submission.
func SubmissionMessage(sourceID string, price int64, roundID uint64) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", sourceID, roundID, price))
}

func (a *Ed25519Attestor) Verify(sourceID string, price int64, roundID uint64, signature []byte) error {
	key, ok := a.keys[sourceID]
	if !ok {
		return fmt.Errorf("%w: no key registered for %s", ErrBadSignature, sourceID)
	}
	if !ed25519.Verify(key, SubmissionMessage(sourceID, price, roundID), signature) {
		return ErrBadSignature
	}
	return nil
}
