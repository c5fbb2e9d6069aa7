package boltstore

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// Records are stored as deterministic CBOR with integer keys.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("boltstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("boltstore: CBOR decoder initialization failed: " + err.Error())
	}
}

type playerRecord struct {
	Name        string  `cbor:"1,keyasint"`
	Mean        float64 `cbor:"2,keyasint"`
	Uncertainty float64 `cbor:"3,keyasint"`
	Matches     int     `cbor:"4,keyasint"`
	CreatedAt   int64   `cbor:"5,keyasint"` // unix nanoseconds
	UpdatedAt   int64   `cbor:"6,keyasint"`
}

type slotRecord struct {
	PlayerID          int64   `cbor:"1,keyasint"`
	Name              string  `cbor:"2,keyasint"`
	MeanBefore        float64 `cbor:"3,keyasint"`
	UncertaintyBefore float64 `cbor:"4,keyasint"`
	MeanAfter         float64 `cbor:"5,keyasint"`
	UncertaintyAfter  float64 `cbor:"6,keyasint"`
}

type matchRecord struct {
	Outcome      string        `cbor:"1,keyasint"`
	Slots        [4]slotRecord `cbor:"2,keyasint"`
	PlayedAt     int64         `cbor:"3,keyasint"`
	SubmissionID string        `cbor:"4,keyasint,omitempty"`
}

// itob encodes an id as a big-endian key so cursors walk in id order.
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// pairKey is the player_matches index key: player id then match id.
func pairKey(playerID, matchID int64) []byte {
	return append(itob(playerID), itob(matchID)...)
}
