package persist

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

const (
	shardMagic      = "PXTE"
	shardHeaderSize = 4 + 1 + 1 + 4

	// DefaultDataShards and DefaultParityShards tolerate two corrupted shards out of ten.
	DefaultDataShards   = 8
	DefaultParityShards = 2
)

var (
	ErrTooManyLost   = errors.New("persist: too many shards lost, cannot recover")
	ErrInvalidShards = errors.New("persist: invalid data/parity configuration")
)

// EncodeShards splits payload into data shards, computes parity shards and
// lays them out after a small header, each shard preceded by its SHA-256.
// Format:
//
//	4 bytes: magic "PXTE"
//	1 byte: data shards
//	1 byte: parity shards
//	4 bytes: payload size
//	For each shard:
//		32 bytes: SHA-256 of the shard
//		N bytes: shard
func EncodeShards(payload []byte, dataShards, parityShards int) ([]byte, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 255 {
		return nil, ErrInvalidShards
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	// Split rejects empty input; a one byte pad is trimmed again by the size field.
	shards, err := enc.Split(append(bytes.Clone(payload), 0))
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}

	shardSize := len(shards[0])
	out := make([]byte, 0, shardHeaderSize+len(shards)*(sha256.Size+shardSize))
	out = append(out, shardMagic...)
	out = append(out, byte(dataShards), byte(parityShards))
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	for _, s := range shards {
		sum := sha256.Sum256(s)
		out = append(out, sum[:]...)
		out = append(out, s...)
	}
	return out, nil
}

// DecodeShards verifies every shard, rebuilds the ones whose hash does not match
// and returns the original payload. It also reports how many shards were repaired.
func DecodeShards(blob []byte) ([]byte, int, error) {
	if len(blob) < shardHeaderSize || string(blob[:4]) != shardMagic {
		return nil, 0, fmt.Errorf("%w: bad shard header", ErrCorrupt)
	}
	dataShards, parityShards := int(blob[4]), int(blob[5])
	size := int(binary.BigEndian.Uint32(blob[6:10]))
	total := dataShards + parityShards
	if dataShards == 0 || parityShards == 0 {
		return nil, 0, ErrInvalidShards
	}
	body := blob[shardHeaderSize:]
	if len(body)%total != 0 {
		return nil, 0, fmt.Errorf("%w: shard area of %d bytes", ErrCorrupt, len(body))
	}
	stride := len(body) / total
	if stride <= sha256.Size {
		return nil, 0, fmt.Errorf("%w: empty shards", ErrCorrupt)
	}
	shardSize := stride - sha256.Size
	if size+1 > shardSize*dataShards {
		return nil, 0, fmt.Errorf("%w: payload size %d", ErrCorrupt, size)
	}

	shards := make([][]byte, total)
	repaired := 0
	for i := range shards {
		rec := body[i*stride : (i+1)*stride]
		shard := rec[sha256.Size:]
		if sum := sha256.Sum256(shard); bytes.Equal(sum[:], rec[:sha256.Size]) {
			shards[i] = bytes.Clone(shard)
		} else {
			repaired++
		}
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, 0, err
	}
	if repaired > 0 {
		if err := enc.ReconstructData(shards); err != nil {
			if errors.Is(err, reedsolomon.ErrTooFewShards) {
				return nil, 0, ErrTooManyLost
			}
			return nil, 0, err
		}
	}

	var out bytes.Buffer
	if err := enc.Join(&out, shards, size); err != nil {
		return nil, 0, err
	}
	return out.Bytes(), repaired, nil
}
