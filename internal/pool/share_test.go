package pool

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestBuildHeaderRejectsJobWithoutPrevHash(t *testing.T) {
	job := Job{JobID: 1, CoinbasePrefix: []byte("a"), CoinbaseSuffix: []byte("b")}
	_, err := BuildHeader(job, ShareInput{JobID: 1})
	if err == nil {
		t.Fatalf("expected error for job missing prev-hash")
	}
}

func TestBuildHeaderNoMerklePath(t *testing.T) {
	prevHash := [32]byte{1, 2, 3}
	job := Job{
		JobID:          1,
		CoinbasePrefix: []byte("prefix"),
		CoinbaseSuffix: []byte("suffix"),
		PrevHashSet:    true,
		PrevHash:       prevHash,
		NBits:          0x1d00ffff,
	}
	in := ShareInput{
		JobID:      1,
		Nonce:      0xdeadbeef,
		NTime:      1700000000,
		Version:    0x20000000,
		Extranonce: []byte("extra"),
	}

	header, err := BuildHeader(job, in)
	if err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}

	if got := binary.LittleEndian.Uint32(header[0:4]); got != in.Version {
		t.Fatalf("version mismatch: got %#x want %#x", got, in.Version)
	}
	if [32]byte(header[4:36]) != prevHash {
		t.Fatalf("prev hash mismatch")
	}

	coinbase := append(append([]byte{}, job.CoinbasePrefix...), append(in.Extranonce, job.CoinbaseSuffix...)...)
	wantRoot := chainhash.DoubleHashH(coinbase)
	if [32]byte(header[36:68]) != [32]byte(wantRoot) {
		t.Fatalf("merkle root mismatch with no merkle path: want coinbase hash directly")
	}

	if got := binary.LittleEndian.Uint32(header[68:72]); got != in.NTime {
		t.Fatalf("ntime mismatch: got %d want %d", got, in.NTime)
	}
	if got := binary.LittleEndian.Uint32(header[72:76]); got != job.NBits {
		t.Fatalf("nbits mismatch: got %#x want %#x", got, job.NBits)
	}
	if got := binary.LittleEndian.Uint32(header[76:80]); got != in.Nonce {
		t.Fatalf("nonce mismatch: got %#x want %#x", got, in.Nonce)
	}
}

func TestBuildHeaderFoldsMerklePath(t *testing.T) {
	job := Job{
		JobID:          1,
		CoinbasePrefix: []byte("p"),
		CoinbaseSuffix: []byte("s"),
		PrevHashSet:    true,
		MerklePath:     [][32]byte{{9, 9, 9}, {8, 8, 8}},
	}
	in := ShareInput{JobID: 1, Extranonce: []byte("x")}

	header, err := BuildHeader(job, in)
	if err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}

	coinbaseHash := chainhash.DoubleHashH([]byte("p" + "x" + "s"))
	want := foldMerklePath(coinbaseHash, job.MerklePath)
	if [32]byte(header[36:68]) != want {
		t.Fatalf("merkle root does not match manual fold")
	}
}

func TestHeaderHashIsDoubleSHA256(t *testing.T) {
	var header [80]byte
	got := HeaderHash(header)
	want := chainhash.DoubleHashH(header[:])
	if [32]byte(got) != [32]byte(want) {
		t.Fatalf("HeaderHash mismatch")
	}
}
