// genesis.go loads the out-of-band genesis anchor from a TOML file. The
// anchor is the one piece of trust the operator supplies; everything after
// it is proven.
package checkpoint

import (
	"encoding/binary"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/lightfold/lightfold/light"
)

// Genesis is the on-disk form of the trust anchor.
type Genesis struct {
	BlockNumber   uint64 `toml:"block_number"`
	StateRoot     string `toml:"state_root"`
	CommitteeHash string `toml:"committee_hash"`
}

// LoadGenesis reads and validates a genesis anchor file.
func LoadGenesis(path string) (light.Checkpoint, error) {
	var g Genesis
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return light.Checkpoint{}, errors.Wrap(err, "checkpoint: decode genesis file")
	}
	return g.Checkpoint()
}

// Checkpoint converts and validates the parsed genesis.
func (g Genesis) Checkpoint() (light.Checkpoint, error) {
	root, err := parseHash(g.StateRoot)
	if err != nil {
		return light.Checkpoint{}, errors.Wrap(err, "checkpoint: state_root")
	}
	committee, err := parseHash(g.CommitteeHash)
	if err != nil {
		return light.Checkpoint{}, errors.Wrap(err, "checkpoint: committee_hash")
	}
	cp := light.Checkpoint{
		BlockNumber:   g.BlockNumber,
		StateRoot:     root,
		CommitteeHash: committee,
	}
	if cp.StateRoot.IsZero() || cp.CommitteeHash.IsZero() {
		return light.Checkpoint{}, ErrZeroCheckpoint
	}
	return cp, nil
}

// ID returns a short stable identifier for a checkpoint, used in logs and
// the relay payload: the Keccak256 hash of its canonical encoding.
func ID(cp light.Checkpoint) light.Hash {
	k := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cp.BlockNumber)
	k.Write(buf[:])
	k.Write(cp.StateRoot[:])
	k.Write(cp.CommitteeHash[:])
	var id light.Hash
	copy(id[:], k.Sum(nil))
	return id
}

func parseHash(s string) (light.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return light.Hash{}, err
	}
	if len(b) != 32 {
		return light.Hash{}, errors.Errorf("expected 32 bytes, got %d", len(b))
	}
	var h light.Hash
	copy(h[:], b)
	return h, nil
}
