package event

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const genesisHashSeed = "HedgeSim:genesis:v1"

// stateHasher threads the SHA-256 chain through the log.
type stateHasher struct {
	prevHash [32]byte
}

func newStateHasher() *stateHasher {
	genesis := sha256.Sum256([]byte(genesisHashSeed))
	return &stateHasher{prevHash: genesis}
}

// computeHash calculates state_hash[N] = SHA-256(prev_hash || seq || digest)
// and advances the chain.
func (h *stateHasher) computeHash(seq int64, digest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(seq))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash
	return hash
}

// VerifyChain recomputes the hash chain over records read back from storage.
// Records must be ordered by sequence with no gaps; a stretch that starts at
// sequence zero is additionally checked against the genesis link. Returns the
// first inconsistency found.
func VerifyChain(records []Record) error {
	for i, r := range records {
		switch {
		case i > 0 && r.Seq != records[i-1].Seq+1:
			return fmt.Errorf("event: sequence gap: %d follows %d", r.Seq, records[i-1].Seq)
		case i > 0 && r.PrevHash != records[i-1].StateHash:
			return fmt.Errorf("event: record %d: prev hash does not match record %d", r.Seq, records[i-1].Seq)
		case i == 0 && r.Seq == 0 && r.PrevHash != sha256.Sum256([]byte(genesisHashSeed)):
			return fmt.Errorf("event: record 0: prev hash is not the genesis hash")
		}

		h := stateHasher{prevHash: r.PrevHash}
		if h.computeHash(r.Seq, r.digest()) != r.StateHash {
			return fmt.Errorf("event: record %d: state hash mismatch", r.Seq)
		}
	}
	return nil
}
