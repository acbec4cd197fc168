// Copyright (C) 2024-2026 Chorus Labs.
// This file is part of chorus
//
// chorus is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// chorus is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with chorus.  If not, see <https://www.gnu.org/licenses/>.

package consensus

import (
	"bytes"
	"sort"
	"time"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/protocol"
)

// The fallback path is an epidemic share-aggregation protocol.  Every
// participating node gossips its accumulated proposal table, bounded by the
// configured fan-out, once per gossip interval.  A fast-path split is
// rooted in journal divergence between witnesses, so each round also relays
// journal facts: as the journals converge, witnesses re-derive their shares
// against the converged prestate, one result accumulates a threshold of
// shares, and whichever node assembles it first announces completion.
//
// The loop is liveness machinery only.  Safety comes from signature
// verification plus the validity-first evidence register; a node that
// never runs the loop still converges by receiving the commit fact.

// enterFallbackLocked starts the gossip loop for an instance.  Idempotent.
func (s *Service) enterFallbackLocked(inst *instance) []outbound {
	if inst.fallbackOn || inst.terminal() {
		return nil
	}
	if s.group.Contains(s.me) {
		if _, derived := inst.shares[s.me]; !derived {
			if err := s.executeLocked(inst); err != nil {
				s.log.Warnf("fallback execution of %s failed: %v", inst.cmd.ID, err)
			}
		}
	}
	inst.phase = Conflicted
	inst.fallbackOn = true
	inst.stopFallback = make(chan struct{})
	s.wg.Add(1)
	go s.fallbackLoop(inst.cmd.ID, inst.stopFallback)
	return s.fallbackRoundLocked(inst)
}

// stopFallbackLocked terminates the gossip loop, if running.
func (s *Service) stopFallbackLocked(inst *instance) {
	if inst.stopFallback != nil {
		close(inst.stopFallback)
		inst.stopFallback = nil
	}
	inst.fallbackOn = false
}

// fallbackLoop gossips one round per interval until the command completes.
func (s *Service) fallbackLoop(cmd basics.CommandID, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.params.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		inst, ok := s.instances[cmd]
		if !ok || inst.terminal() || !inst.fallbackOn {
			s.mu.Unlock()
			return
		}
		if _, done := s.evidence.Signature(cmd); done {
			// Some replica already holds the group signature; the commit
			// fact reaches us through its announcement.
			s.log.Debugf("fallback for %s terminating on observed signature", cmd)
			s.stopFallbackLocked(inst)
			s.mu.Unlock()
			return
		}
		if s.group.Contains(s.me) {
			if err := s.executeLocked(inst); err != nil {
				s.log.Warnf("fallback re-derivation for %s failed: %v", cmd, err)
			}
		}
		outs := s.maybeCommitLocked(inst)
		outs = append(outs, s.fallbackRoundLocked(inst)...)
		s.mu.Unlock()
		s.sendAll(outs)
	}
}

// fallbackRoundLocked prepares one gossip round: the accumulated proposal
// table plus a journal anti-entropy batch.
func (s *Service) fallbackRoundLocked(inst *instance) []outbound {
	if inst.terminal() {
		return nil
	}
	inst.gossipRound++
	agg := aggregateShareMsg{
		Command:   inst.cmd,
		Sender:    s.me,
		Proposals: s.proposalsLocked(inst),
		Round:     inst.gossipRound,
		Evidence:  s.evidence.Delta(inst.cmd.ID),
	}
	delta := journalDeltaMsg{
		Namespace: s.journal.Namespace(),
		Facts:     s.journal.Facts(),
	}
	return []outbound{
		{relay: true, tag: protocol.AggregateShareTag, data: protocol.Encode(&agg)},
		{relay: true, tag: protocol.JournalDeltaTag, data: protocol.Encode(&delta)},
	}
}

// proposalsLocked exports the instance's share table grouped by result, in
// deterministic order.
func (s *Service) proposalsLocked(inst *instance) []resultProposal {
	byResult := make(map[crypto.Digest][]proposalShare)
	for from, share := range inst.shares {
		byResult[share.Result] = append(byResult[share.Result], proposalShare{
			Participant: from,
			DerivedAt:   share.DerivedAt,
			Partial:     share.Partial,
		})
	}
	out := make([]resultProposal, 0, len(byResult))
	for result, shares := range byResult {
		sort.Slice(shares, func(i, j int) bool { return shares[i].Participant.Less(shares[j].Participant) })
		out = append(out, resultProposal{ResultHash: result, Shares: shares})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ResultHash[:], out[j].ResultHash[:]) < 0
	})
	return out
}

// handleConflictReport moves a command to the fallback path on a witness
// that has not noticed the split itself.
func (s *Service) handleConflictReport(peer basics.ParticipantID, data []byte) {
	var msg conflictReportMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable conflict report from %s: %v", peer, err)
		return
	}
	s.mergeEvidence(msg.Evidence)
	if err := s.auth.Authorize(msg.Command, msg.Reporter); err != nil {
		s.log.Infof("refusing conflict report for %s from %s: %v", msg.Command.ID, peer, err)
		return
	}

	s.mu.Lock()
	s.clock.Tick(s.me)
	inst := s.instanceLocked(msg.Command)
	var outs []outbound
	if !inst.terminal() {
		s.log.Infof("conflict reported for %s by %s across %d results", msg.Command.ID, msg.Reporter, len(msg.ConflictingResults))
		outs = s.enterFallbackLocked(inst)
	}
	s.mu.Unlock()
	s.sendAll(outs)
}

// handleAggregateShare merges a peer's proposal table into the local one.
func (s *Service) handleAggregateShare(peer basics.ParticipantID, data []byte) {
	var msg aggregateShareMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable aggregate share from %s: %v", peer, err)
		return
	}
	s.mergeEvidence(msg.Evidence)
	if err := s.auth.Authorize(msg.Command, msg.Sender); err != nil {
		s.log.Infof("refusing aggregate share for %s from %s: %v", msg.Command.ID, peer, err)
		return
	}

	s.mu.Lock()
	s.clock.Tick(s.me)
	inst := s.instanceLocked(msg.Command)
	if inst.terminal() {
		s.mu.Unlock()
		return
	}
	for _, prop := range msg.Proposals {
		for _, share := range prop.Shares {
			s.addShareLocked(inst, share.Participant, recordedShare{
				DerivedAt: share.DerivedAt,
				Result:    prop.ResultHash,
				Partial:   share.Partial,
			})
		}
	}
	outs := s.enterFallbackLocked(inst)
	outs = append(outs, s.maybeCommitLocked(inst)...)
	s.mu.Unlock()
	s.sendAll(outs)
}

// handleThresholdComplete adopts a fallback completion announcement.
func (s *Service) handleThresholdComplete(peer basics.ParticipantID, data []byte) {
	var msg thresholdCompleteMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable threshold completion from %s: %v", peer, err)
		return
	}
	s.acceptCommit(peer, msg.Commit, msg.Time, msg.Evidence)
}

// handleJournalDelta folds an anti-entropy batch into the local journal.
func (s *Service) handleJournalDelta(peer basics.ParticipantID, data []byte) {
	var msg journalDeltaMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable journal delta from %s: %v", peer, err)
		return
	}
	if msg.Namespace != s.journal.Namespace() {
		return
	}
	if err := s.journal.MergeFacts(msg.Facts); err != nil {
		s.log.Warnf("journal delta from %s rejected: %v", peer, err)
	}
}
