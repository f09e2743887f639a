// Package valcache caches coherence-validation results so an unchanged
// framework+experiment+corpus+model combination never pays for the same
// LLM-based check twice. Keys are pure functions of full content; entries
// reference results held in the artifact store.
package valcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/corvuslabs/corvus/internal/domain"
)

// Key is the deterministic cache key for one validation input tuple.
type Key domain.Hash

// Short returns the key prefix used in entry file names.
func (k Key) Short() string { return domain.Hash(k).Short() }

// Inputs is the full-content tuple a validation result depends on. No field
// is a path, name, or timestamp: flipping a single byte in any input must
// change the derived key, and nothing else may.
type Inputs struct {
	Framework  []byte
	Experiment []byte
	Corpus     []byte
	ModelID    string
}

// DeriveKey computes the cache key for an input tuple. Concatenation order
// is fixed and each section is length-framed, so content cannot shift
// between sections and collide.
func DeriveKey(in Inputs) Key {
	h := sha256.New()
	for _, section := range [][]byte{in.Framework, in.Experiment, in.Corpus, []byte(in.ModelID)} {
		var frame [8]byte
		binary.BigEndian.PutUint64(frame[:], uint64(len(section)))
		h.Write(frame[:])
		h.Write(section)
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}
