package core

// Synchronizer reconciles the local chain with peers: peer-height probing,
// chunked header/body fetch, and fork-choice-gated adoption of a peer's tip.

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const fetchChunkSize = 100

// blacklistEntry records a peer's grace-period expiry after a failed
// fetch.
type blacklistEntry struct {
	until time.Time
}

// Synchronizer drives periodic catch-up against the peer set.
type Synchronizer struct {
	chain     *ChainStore
	consensus *ConsensusEngine
	peers     PeerClient
	interval  time.Duration
	grace     time.Duration
	lg        *logrus.Logger

	blacklist map[string]blacklistEntry
}

// NewSynchronizer constructs a synchronizer polling peers every interval,
// with a grace-period blacklist duration for peers that fail a fetch. lg
// may be nil, in which case logrus's standard logger is used.
func NewSynchronizer(chain *ChainStore, consensus *ConsensusEngine, peers PeerClient, interval, grace time.Duration, lg *logrus.Logger) *Synchronizer {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Synchronizer{
		chain:     chain,
		consensus: consensus,
		peers:     peers,
		interval:  interval,
		grace:     grace,
		lg:        lg,
		blacklist: make(map[string]blacklistEntry),
	}
}

// Run loops sync rounds every s.interval until ctx is canceled, observing
// the shared shutdown signal between rounds.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.SyncOnce(ctx)
		}
	}
}

// SyncOnce performs a single sync round: query peer heights, pick the
// peer with strictly higher height than the local tip (ties broken by
// stability score), and catch up from it. It returns nil when no peer is
// ahead, and ErrPeerUnreachable when every peer that is ahead is
// blacklisted or fails.
func (s *Synchronizer) SyncOnce(ctx context.Context) error {
	_, localHeight := s.chain.Head()

	peers, err := s.peers.Peers(ctx)
	if err != nil {
		return ErrPeerUnreachable
	}
	candidates := make([]PeerInfo, 0, len(peers))
	blacklistedAhead := false
	now := time.Now()
	for _, p := range peers {
		if entry, blacklisted := s.blacklist[p.ID]; blacklisted && now.Before(entry.until) {
			if p.Height > localHeight {
				blacklistedAhead = true
			}
			continue
		}
		if p.Height > localHeight {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		if blacklistedAhead {
			return ErrPeerUnreachable
		}
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Height != candidates[j].Height {
			return candidates[i].Height > candidates[j].Height
		}
		return candidates[i].StabilityScore > candidates[j].StabilityScore
	})

	for _, peer := range candidates {
		if err := s.syncWithPeer(ctx, peer); err != nil {
			s.lg.WithFields(logrus.Fields{"peer": peer.ID, "error": err}).Warn("sync with peer failed, blacklisting")
			s.blacklist[peer.ID] = blacklistEntry{until: time.Now().Add(s.grace)}
			continue
		}
		return nil
	}
	return ErrPeerUnreachable
}

// syncWithPeer fetches and applies block ranges from peer in chunks of
// fetchChunkSize, aborting the whole batch on the first invalid block.
// Re-requesting an already-known height is a no-op via ChainStore.Append's
// idempotence. Each range request is tagged with a correlation id for log
// tracing across the request/response pair.
func (s *Synchronizer) syncWithPeer(ctx context.Context, peer PeerInfo) error {
	_, from := s.chain.Head()
	from++
	for from <= peer.Height {
		to := from + fetchChunkSize
		if to > peer.Height+1 {
			to = peer.Height + 1
		}

		requestID := uuid.New().String()
		s.lg.WithFields(logrus.Fields{
			"request_id": requestID,
			"peer":       peer.ID,
			"from":       from,
			"to":         to,
		}).Debug("fetching header range")

		headers, err := s.peers.FetchHeaders(ctx, peer.ID, from, to)
		if err != nil {
			return ErrPeerUnreachable
		}

		height := from
		for _, header := range headers {
			txs, err := s.peers.FetchBody(ctx, peer.ID, header.Hash())
			if err != nil {
				return ErrPeerUnreachable
			}
			block := &Block{Header: header, Transactions: txs}

			if err := s.consensus.Validate(block, height); err != nil {
				return err
			}
			if err := s.chain.Append(block, nil, new(big.Int)); err != nil {
				return err
			}
			height++
		}
		from = to
	}

	// Once caught up to peer's reported tip, defer to fork choice rather
	// than trusting append order: a peer whose chain forked away from
	// ours partway through should only become canonical if it actually
	// wins on (finalized_height, cumulative_vote_weight, lower hash).
	return s.chain.ReorgIfBetter(peer.HeadHash)
}
