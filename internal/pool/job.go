// Package pool implements the channel engine: per-channel job storage,
// share validation against a channel's current target, block-solution
// detection, and vardiff-driven retargeting, for a pool speaking only SV2
// to its upstreams (the translator, or a direct SV2 miner).
//
// Grounded on the teacher's internal/bitcoin/crypto.go (CalculateMerkleRoot,
// ReconstructBlock, ValidateShare, IsBlockCandidate), generalized from
// full-block reconstruction against a btcjson.GetBlockTemplateResult to
// SV2's leaner job representation: a channel only ever sees a merkle
// authentication path and a coinbase prefix/suffix, not the full
// transaction set, so header hashing here folds the path directly instead
// of rebuilding a merkle tree from scratch.
package pool

import "sync"

// Job is one unit of work handed to a channel via NewExtendedMiningJob, with
// the previous-hash/time/bits fields SetNewPrevHash fills in once it
// arrives for this JobID. A job with PrevHashSet == false cannot yet be
// validated against — shares referencing it are rejected as stale/unknown.
type Job struct {
	JobID                 uint32
	FutureJob             bool
	Version               uint32
	VersionRollingAllowed bool
	MerklePath            [][32]byte
	CoinbasePrefix        []byte
	CoinbaseSuffix        []byte

	PrevHashSet bool
	PrevHash    [32]byte
	MinNTime    uint32
	NBits       uint32
}

// JobStore holds a channel's known jobs, keyed by JobID. Jobs are retained
// long enough to validate shares referencing them; callers prune old jobs
// on new prev-hash arrival (see Prune).
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[uint32]*Job
	current uint32 // most recently distributed job id
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uint32]*Job)}
}

// Add records a newly distributed job.
func (s *JobStore) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := j
	s.jobs[j.JobID] = &cp
	s.current = j.JobID
}

// SetPrevHash fills in a job's previous-hash/time/bits fields, activating it
// for share submission. Returns false if jobID is unknown.
func (s *JobStore) SetPrevHash(jobID uint32, prevHash [32]byte, minNTime, nbits uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	j.PrevHashSet = true
	j.PrevHash = prevHash
	j.MinNTime = minNTime
	j.NBits = nbits
	return true
}

// Get returns a copy of the job for jobID, if known.
func (s *JobStore) Get(jobID uint32) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Prune discards every job other than keepIDs, called when a new prev-hash
// supersedes older work.
func (s *JobStore) Prune(keepIDs ...uint32) {
	keep := make(map[uint32]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		if _, ok := keep[id]; !ok {
			delete(s.jobs, id)
		}
	}
}
