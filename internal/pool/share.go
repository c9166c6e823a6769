package pool

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/hashpool/pkg/errors"
)

// ShareInput is the set of fields a channel's SubmitShares{Standard,Extended}
// message supplies, reduced to what header reconstruction needs.
type ShareInput struct {
	JobID      uint32
	Nonce      uint32
	NTime      uint32
	Version    uint32
	Extranonce []byte // caller-assembled: channel prefix + (extranonce2 for extended channels)
}

// BuildHeader reconstructs the 80-byte block header a share implies, given
// the job it references. foldMerklePath combines the coinbase hash with
// the job's authentication path the way GetMerkleBranch's consumer side
// always must for the coinbase transaction specifically: it occupies index
// 0 at every tree level, so the coinbase side of each combine is always on
// the left.
func BuildHeader(job Job, in ShareInput) ([80]byte, error) {
	var header [80]byte
	if !job.PrevHashSet {
		return header, errors.New(errors.ErrorTypeShare, "build_header", "job has no prev-hash yet")
	}

	coinbase := make([]byte, 0, len(job.CoinbasePrefix)+len(in.Extranonce)+len(job.CoinbaseSuffix))
	coinbase = append(coinbase, job.CoinbasePrefix...)
	coinbase = append(coinbase, in.Extranonce...)
	coinbase = append(coinbase, job.CoinbaseSuffix...)
	coinbaseHash := chainhash.DoubleHashH(coinbase)

	merkleRoot := foldMerklePath(coinbaseHash, job.MerklePath)

	binary.LittleEndian.PutUint32(header[0:4], in.Version)
	copy(header[4:36], job.PrevHash[:])
	copy(header[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint32(header[68:72], in.NTime)
	binary.LittleEndian.PutUint32(header[72:76], job.NBits)
	binary.LittleEndian.PutUint32(header[76:80], in.Nonce)
	return header, nil
}

func foldMerklePath(leaf chainhash.Hash, path [][32]byte) [32]byte {
	cur := leaf
	for _, sibling := range path {
		concat := make([]byte, 64)
		copy(concat[0:32], cur[:])
		copy(concat[32:64], sibling[:])
		cur = chainhash.DoubleHashH(concat)
	}
	return cur
}

// HeaderHash returns the double-SHA256 hash of a reconstructed header, in
// the same little-endian byte order SV2 Target/U256 values use — so it can
// be compared directly against a channel's target via target.HashMeetsTarget.
func HeaderHash(header [80]byte) [32]byte {
	h := chainhash.DoubleHashH(header[:])
	return [32]byte(h)
}
