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

// Package consensus implements two-phase threshold-signature consensus over
// journal commands: an optimistic fast path completing in one round trip
// when all witnesses agree, and an epidemic fallback that converges through
// gossip when they do not.
//
// A command executes against an explicit parent state.  Witnesses do not
// vote on ordering; they attest that a command produced a particular result
// hash against their reduced prestate.  Once a threshold t of the n group
// members attest to the same result, their partial signatures combine into
// one group signature and the outcome becomes a commit fact in the journal.
// Safety never depends on timing: timeouts and gossip affect liveness only.
package consensus

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/chorus-net/chorus/config"
	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/evidence"
	"github.com/chorus-net/chorus/gossip"
	"github.com/chorus-net/chorus/journal"
	"github.com/chorus-net/chorus/logging"
	"github.com/chorus-net/chorus/protocol"
)

// byzantineBacklog bounds the misbehavior report stream.
const byzantineBacklog = 64

// An Authorizer is the local policy predicate gating participation in a
// command.  Refusing is always legal; it never blocks other witnesses.
type Authorizer interface {
	Authorize(cmd Command, initiator basics.ParticipantID) error
}

// AcceptAll authorizes every command.
type AcceptAll struct{}

// Authorize implements Authorizer.
func (AcceptAll) Authorize(Command, basics.ParticipantID) error { return nil }

// A BudgetTracker meters command proposals against a monotone per-peer
// budget.  The host application owns the policy; a Charge error vetoes the
// proposal before anything reaches the network.
type BudgetTracker interface {
	Charge(ctx basics.ContextID, peer basics.ParticipantID, units uint64) error
	Spent(ctx basics.ContextID, peer basics.ParticipantID) uint64
}

// Phase is the lifecycle position of one command instance.
type Phase uint8

// Command instance phases.
const (
	Idle Phase = iota
	Proposed
	Executing
	CollectingShares
	Committed
	Conflicted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Proposed:
		return "proposed"
	case Executing:
		return "executing"
	case CollectingShares:
		return "collecting"
	case Committed:
		return "committed"
	case Conflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// recordedShare is a witness's current attestation for one command.
type recordedShare struct {
	DerivedAt uint64
	Result    crypto.Digest
	Partial   crypto.ThresholdSig
}

// instance tracks one in-flight command.
type instance struct {
	cmd       Command
	initiator basics.ParticipantID
	phase     Phase

	// round counts local derivations: 0 on the fast path, incremented each
	// time fallback re-execution observes a changed prestate.
	round    uint64
	prestate crypto.Digest
	myResult crypto.Digest

	// shares holds the current attestation per witness; a later derivation
	// round replaces an earlier one.
	shares map[basics.ParticipantID]recordedShare

	// pinned holds the journal tokens of the prestate chain, protected from
	// pruning until the instance reaches a terminal phase.
	pinned []journal.OrderToken

	fallbackOn   bool
	gossipRound  uint64
	stopFallback chan struct{}
}

func (inst *instance) terminal() bool {
	return inst.phase == Committed
}

// outbound is a message computed under the service lock and sent after it
// is released.  Handlers never touch the network while holding the lock.
type outbound struct {
	peer  *basics.ParticipantID // nil means broadcast
	relay bool                  // bounded-fanout relay instead of broadcast
	tag   protocol.Tag
	data  []byte
}

// Parameters is the assembly of dependencies a consensus service runs over.
type Parameters struct {
	Me       basics.ParticipantID
	Secrets  *crypto.SignatureSecrets
	Group    WitnessGroup
	Journal  *journal.Journal
	Evidence *evidence.Store
	Net      *gossip.Disseminator
	Auth     Authorizer
	Budget   BudgetTracker // optional; nil disables proposal metering
	Config   config.Params
	Clock    func() time.Time
	Log      logging.Logger
}

// Service runs the consensus protocol for one namespace on one node.  A
// node is usually initiator and witness at once; the roles share the
// instance table.
type Service struct {
	mu deadlock.Mutex

	me       basics.ParticipantID
	secrets  *crypto.SignatureSecrets
	group    WitnessGroup
	groupKey crypto.Digest
	journal  *journal.Journal
	evidence *evidence.Store
	net      *gossip.Disseminator
	auth     Authorizer
	budget   BudgetTracker
	params   config.Params
	now      func() time.Time
	log      logging.Logger

	instances map[basics.CommandID]*instance
	clock     basics.VectorClock

	// flagged witnesses have produced byzantine evidence; their shares are
	// ignored from then on.
	flagged map[basics.ParticipantID]bool
	byz     chan ByzantineEvidence

	quit chan struct{}
	wg   sync.WaitGroup
}

// MakeService wires a consensus service and registers its message handlers
// on the disseminator.
func MakeService(p Parameters) (*Service, error) {
	gk, err := p.Group.Key()
	if err != nil {
		return nil, err
	}
	if p.Auth == nil {
		p.Auth = AcceptAll{}
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	s := &Service{
		me:        p.Me,
		secrets:   p.Secrets,
		group:     p.Group,
		groupKey:  gk,
		journal:   p.Journal,
		evidence:  p.Evidence,
		net:       p.Net,
		auth:      p.Auth,
		budget:    p.Budget,
		params:    p.Config,
		now:       p.Clock,
		log:       p.Log.With("me", p.Me.String()),
		instances: make(map[basics.CommandID]*instance),
		clock:     make(basics.VectorClock),
		flagged:   make(map[basics.ParticipantID]bool),
		byz:       make(chan ByzantineEvidence, byzantineBacklog),
		quit:      make(chan struct{}),
	}

	s.net.RegisterHandler(protocol.ExecuteTag, s.handleExecute)
	s.net.RegisterHandler(protocol.WitnessShareTag, s.handleWitnessShare)
	s.net.RegisterHandler(protocol.CommitTag, s.handleCommit)
	s.net.RegisterHandler(protocol.ConflictReportTag, s.handleConflictReport)
	s.net.RegisterHandler(protocol.AggregateShareTag, s.handleAggregateShare)
	s.net.RegisterHandler(protocol.ThresholdCompleteTag, s.handleThresholdComplete)
	s.net.RegisterHandler(protocol.JournalDeltaTag, s.handleJournalDelta)
	return s, nil
}

// Stop terminates all fallback loops and timers and waits for them.
func (s *Service) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// ByzantineMonitor streams observed witness misbehavior for operator
// reporting.  The stream is best-effort and never blocks the protocol.
func (s *Service) ByzantineMonitor() <-chan ByzantineEvidence {
	return s.byz
}

// Phase reports the lifecycle position of a command on this node.
func (s *Service) Phase(cmd basics.CommandID) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[cmd]
	if !ok {
		return Idle
	}
	return inst.phase
}

// Result returns the locally known agreed result hash for a command.
func (s *Service) Result(cmd basics.CommandID) (crypto.Digest, bool) {
	if sig, ok := s.evidence.Signature(cmd); ok {
		return sig.ResultHash, true
	}
	return crypto.Digest{}, false
}

// Propose initiates consensus on a command payload against the current
// journal head.  It returns as soon as the Execute broadcast is out;
// completion is observable through Phase, Result, or the journal itself.
func (s *Service) Propose(payload []byte) (basics.CommandID, error) {
	state, err := s.journal.Reduce()
	if err != nil {
		return basics.CommandID{}, err
	}
	cmd := Command{
		ID:        basics.NewCommandID(),
		Namespace: s.journal.Namespace(),
		Parent:    state.Head(),
		Payload:   payload,
	}
	if err := s.auth.Authorize(cmd, s.me); err != nil {
		return basics.CommandID{}, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	if s.budget != nil {
		ctx := basics.ContextID(cmd.Namespace.ID)
		if err := s.budget.Charge(ctx, s.me, 1); err != nil {
			return basics.CommandID{}, fmt.Errorf("proposal budget exhausted: %w", err)
		}
	}

	s.mu.Lock()
	s.clock.Tick(s.me)
	inst := &instance{cmd: cmd, initiator: s.me, phase: Proposed, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst
	s.evidence.Observe(cmd.ID, evidence.Evidence{FirstSeen: evidence.FirstSeen{Clock: s.clock.Clone(), Origin: s.me}})

	var outs []outbound
	if s.group.Contains(s.me) {
		if err := s.executeLocked(inst); err != nil {
			s.mu.Unlock()
			return basics.CommandID{}, err
		}
		// t=1 groups commit on the initiator's own share.
		outs = s.maybeCommitLocked(inst)
	}
	if !inst.terminal() {
		inst.phase = CollectingShares
	}
	exec := executeMsg{Command: cmd, Initiator: s.me, Evidence: s.evidence.Delta(cmd.ID)}
	s.mu.Unlock()

	if err := s.net.Broadcast(protocol.ExecuteTag, protocol.Encode(&exec)); err != nil {
		s.log.Warnf("execute broadcast for %s failed: %v", cmd.ID, err)
	}
	s.sendAll(outs)
	s.startFallbackTimer(cmd.ID)
	return cmd.ID, nil
}

// startFallbackTimer arms the liveness timeout: if the fast path has not
// committed within FallbackAfter, the command moves to the fallback path.
func (s *Service) startFallbackTimer(cmd basics.CommandID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.quit:
			return
		case <-time.After(s.params.FallbackAfter):
		}
		s.mu.Lock()
		inst, ok := s.instances[cmd]
		var outs []outbound
		if ok && !inst.terminal() {
			s.log.Infof("command %s missed the fast-path deadline, entering fallback", cmd)
			outs = s.enterFallbackLocked(inst)
		}
		s.mu.Unlock()
		s.sendAll(outs)
	}()
}

// executeLocked runs the command against the local reduced prestate and
// records this witness's own share.
func (s *Service) executeLocked(inst *instance) error {
	inst.phase = Executing
	state, err := s.journal.Reduce()
	if err != nil {
		return err
	}
	prestate := state.Hash()
	if _, derived := inst.shares[s.me]; derived {
		if prestate == inst.prestate {
			return nil // nothing changed since the last derivation
		}
		inst.round++
	} else {
		// First derivation: keep the prestate chain out of the pruner's
		// reach until the command settles.
		inst.pinned = append([]journal.OrderToken(nil), state.ChainTokens...)
		s.journal.Pin(inst.pinned...)
	}
	result := ResultHash(inst.cmd, prestate)
	partial, err := s.group.Sign(journal.ResultClaim{CommandID: inst.cmd.ID, ResultHash: result}, s.secrets)
	if err != nil {
		return err
	}
	inst.prestate = prestate
	inst.myResult = result
	inst.shares[s.me] = recordedShare{DerivedAt: inst.round, Result: result, Partial: partial}
	s.evidence.Observe(inst.cmd.ID, evidence.Evidence{Attesters: evidence.AddSet{}.Add(s.me)})
	return nil
}

// handleExecute is the witness side of the fast path: execute against the
// local prestate, derive the result hash, and reply with both threshold
// rounds piggybacked into a single witness share.
func (s *Service) handleExecute(peer basics.ParticipantID, data []byte) {
	var msg executeMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable execute from %s: %v", peer, err)
		return
	}
	s.mergeEvidence(msg.Evidence)
	if !s.group.Contains(s.me) {
		return
	}
	if err := s.auth.Authorize(msg.Command, msg.Initiator); err != nil {
		s.log.Infof("refusing command %s from %s: %v", msg.Command.ID, msg.Initiator, err)
		return
	}

	s.mu.Lock()
	s.clock.Tick(s.me)
	inst := s.instanceLocked(msg.Command)
	if inst.terminal() {
		s.mu.Unlock()
		return
	}
	if err := s.executeLocked(inst); err != nil {
		s.mu.Unlock()
		s.log.Warnf("execution of %s failed: %v", msg.Command.ID, err)
		return
	}
	inst.phase = CollectingShares
	mine := inst.shares[s.me]
	reply := witnessShareMsg{
		CommandID:   inst.cmd.ID,
		ResultHash:  mine.Result,
		Clock:       s.clock.Clone(),
		Participant: s.me,
		DerivedAt:   mine.DerivedAt,
		Round1:      shareCommitment(mine.Partial),
		Round2:      mine.Partial,
		Evidence:    s.evidence.Delta(inst.cmd.ID),
	}
	outs := s.maybeCommitLocked(inst)
	s.mu.Unlock()

	if err := s.net.Send(msg.Initiator, protocol.WitnessShareTag, protocol.Encode(&reply)); err != nil {
		s.log.Debugf("share reply to %s failed: %v", msg.Initiator, err)
	}
	s.sendAll(outs)
}

// instanceLocked returns the instance for cmd, bootstrapping one from the
// carried command if this node never saw the Execute broadcast.
func (s *Service) instanceLocked(cmd Command) *instance {
	if inst, ok := s.instances[cmd.ID]; ok {
		return inst
	}
	inst := &instance{cmd: cmd, phase: Proposed, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst
	s.evidence.Observe(cmd.ID, evidence.Evidence{FirstSeen: evidence.FirstSeen{Clock: s.clock.Clone(), Origin: s.me}})
	return inst
}

// handleWitnessShare is the coordinator side of the fast path.
func (s *Service) handleWitnessShare(peer basics.ParticipantID, data []byte) {
	var msg witnessShareMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable witness share from %s: %v", peer, err)
		return
	}
	s.mergeEvidence(msg.Evidence)

	s.mu.Lock()
	s.clock.Join(msg.Clock)
	s.clock.Tick(s.me)
	inst, ok := s.instances[msg.CommandID]
	if !ok || inst.terminal() {
		s.mu.Unlock()
		return
	}
	if msg.Round1 != shareCommitment(msg.Round2) {
		s.recordByzantineLocked(ByzantineEvidence{
			CommandID: msg.CommandID,
			Witness:   msg.Participant,
			Reason:    ReasonMalformedShare,
			Details:   "round-1 commitment does not open to the round-2 share",
		})
		s.mu.Unlock()
		return
	}
	s.addShareLocked(inst, msg.Participant, recordedShare{DerivedAt: msg.DerivedAt, Result: msg.ResultHash, Partial: msg.Round2})
	outs := s.maybeCommitLocked(inst)
	if inst.phase == CollectingShares {
		outs = append(outs, s.detectSplitLocked(inst)...)
	}
	s.mu.Unlock()
	s.sendAll(outs)
}

// addShareLocked folds one witness attestation into the instance, applying
// the supersession and misbehavior rules.  Identical replays are no-ops.
func (s *Service) addShareLocked(inst *instance, from basics.ParticipantID, share recordedShare) bool {
	if !s.group.Contains(from) {
		s.log.Debugf("ignoring share from non-member %s for %s", from, inst.cmd.ID)
		return false
	}
	if s.flagged[from] {
		return false
	}
	claim := journal.ResultClaim{CommandID: inst.cmd.ID, ResultHash: share.Result}
	if err := s.group.checkPartial(claim, from, share.Partial); err != nil {
		s.recordByzantineLocked(ByzantineEvidence{
			CommandID: inst.cmd.ID,
			Witness:   from,
			Reason:    ReasonMalformedShare,
			Details:   err.Error(),
		})
		return false
	}

	prev, seen := inst.shares[from]
	switch {
	case !seen:
	case share.DerivedAt < prev.DerivedAt:
		return false // stale derivation
	case share.DerivedAt == prev.DerivedAt && share.Result == prev.Result:
		if !bytes.Equal(protocol.Encode(share.Partial), protocol.Encode(prev.Partial)) {
			// Same claim, different signature bytes: signing is
			// deterministic, so an honest witness cannot produce this.
			s.recordByzantineLocked(ByzantineEvidence{
				CommandID: inst.cmd.ID,
				Witness:   from,
				Reason:    ReasonInconsistentShare,
				Details:   "two distinct partial signatures over one result claim",
			})
			delete(inst.shares, from)
			return false
		}
		return false // replay; a share counts once
	case share.DerivedAt == prev.DerivedAt:
		// One witness, one round, two results.
		s.recordByzantineLocked(ByzantineEvidence{
			CommandID: inst.cmd.ID,
			Witness:   from,
			Reason:    ReasonEquivocation,
			Details:   "two result hashes attested in one derivation round",
		})
		delete(inst.shares, from)
		return false
	}
	inst.shares[from] = share
	s.evidence.Observe(inst.cmd.ID, evidence.Evidence{Attesters: evidence.AddSet{}.Add(from)})
	return true
}

// tallyLocked counts current attestations per result hash.
func (s *Service) tallyLocked(inst *instance) map[crypto.Digest]int {
	tally := make(map[crypto.Digest]int)
	for _, share := range inst.shares {
		tally[share.Result]++
	}
	return tally
}

// maybeCommitLocked combines shares into a commit once some result reached
// the threshold.  It returns the messages announcing the commit.
func (s *Service) maybeCommitLocked(inst *instance) []outbound {
	if inst.terminal() {
		return nil
	}
	var winner crypto.Digest
	found := false
	for result, n := range s.tallyLocked(inst) {
		if n >= int(s.group.Threshold) {
			winner, found = result, true
			break
		}
	}
	if !found {
		return nil
	}

	partials := make([]crypto.ThresholdSig, 0, len(inst.shares))
	for _, share := range inst.shares {
		if share.Result == winner {
			partials = append(partials, share.Partial)
		}
	}
	combined, err := crypto.ThresholdAssemble(partials)
	if err != nil {
		s.log.Errorf("assembling %d shares for %s failed: %v", len(partials), inst.cmd.ID, err)
		return nil
	}
	claim := journal.ResultClaim{CommandID: inst.cmd.ID, ResultHash: winner}
	if err := crypto.ThresholdVerify(claim, s.groupKey, combined); err != nil {
		s.log.Errorf("combined signature for %s does not verify: %v", inst.cmd.ID, err)
		return nil
	}

	commit := journal.Commit{
		CommandID:  inst.cmd.ID,
		ResultHash: winner,
		Epoch:      inst.cmd.Parent.Epoch + 1,
		Sig:        combined,
		GroupKey:   s.groupKey,
		Attesters:  s.group.attesters(combined),
		Clock:      s.clock.Clone(),
	}
	ts := journal.SemanticTime{UnixMilli: uint64(s.now().UnixMilli()), Origin: s.me}
	return s.adoptCommitLocked(inst, commit, ts, true)
}

// adoptCommitLocked records a verified commit locally and, when announce is
// set, prepares its broadcast.  Callers verified the group signature.
func (s *Service) adoptCommitLocked(inst *instance, commit journal.Commit, ts journal.SemanticTime, announce bool) []outbound {
	if inst.terminal() {
		return nil
	}
	viaFallback := inst.fallbackOn
	fact := journal.NewFact(ts, journal.FactContent{Kind: journal.KindCommit, Commit: &commit})
	if err := s.journal.Insert(fact); err != nil && err != journal.ErrDeferred {
		// A conflicting commit is already reduced; validity-first keeps it.
		s.log.Warnf("commit fact for %s rejected locally: %v", commit.CommandID, err)
	}
	s.evidence.Observe(commit.CommandID, evidence.Evidence{
		Sig: evidence.ValidityFirst{ResultHash: commit.ResultHash, GroupKey: commit.GroupKey, Sig: commit.Sig},
	})
	inst.phase = Committed
	s.stopFallbackLocked(inst)
	if len(inst.pinned) > 0 {
		s.journal.Unpin(inst.pinned...)
		inst.pinned = nil
	}
	s.log.Infof("command %s committed with result %s (%d attesters)", commit.CommandID, commit.ResultHash, len(commit.Attesters))

	if !announce {
		return nil
	}
	msg := commitMsg{Commit: commit, Time: ts, Evidence: s.evidence.Delta(commit.CommandID)}
	outs := []outbound{{tag: protocol.CommitTag, data: protocol.Encode(&msg)}}
	if viaFallback {
		done := thresholdCompleteMsg{
			Commit:       commit,
			Time:         ts,
			Contributors: commit.Attesters,
			Evidence:     s.evidence.Delta(commit.CommandID),
		}
		outs = append(outs, outbound{tag: protocol.ThresholdCompleteTag, data: protocol.Encode(&done)})
	}
	return outs
}

// detectSplitLocked checks whether the fast path can still reach threshold
// on some result.  Once even full participation of the silent witnesses
// cannot push any result over the threshold, the split is certain and the
// fallback starts immediately.
func (s *Service) detectSplitLocked(inst *instance) []outbound {
	tally := s.tallyLocked(inst)
	if len(tally) < 2 {
		return nil
	}
	silent := s.group.N() - len(inst.shares)
	for _, n := range tally {
		if n+silent >= int(s.group.Threshold) {
			return nil // some result may still make it
		}
	}

	results := make([]crypto.Digest, 0, len(tally))
	for result := range tally {
		results = append(results, result)
	}
	s.log.Warnf("fast path for %s split across %d results: %v", inst.cmd.ID, len(results), ErrConflicted)
	inst.phase = Conflicted

	outs := s.enterFallbackLocked(inst)
	report := conflictReportMsg{
		Command:            inst.cmd,
		ConflictingResults: results,
		Reporter:           s.me,
		Evidence:           s.evidence.Delta(inst.cmd.ID),
	}
	return append(outs, outbound{tag: protocol.ConflictReportTag, data: protocol.Encode(&report)})
}

// handleCommit installs a commit fact formed elsewhere.
func (s *Service) handleCommit(peer basics.ParticipantID, data []byte) {
	var msg commitMsg
	if err := protocol.Decode(data, &msg); err != nil {
		s.log.Warnf("undecodable commit from %s: %v", peer, err)
		return
	}
	s.acceptCommit(peer, msg.Commit, msg.Time, msg.Evidence)
}

// acceptCommit verifies and adopts a commit announced by a peer.
func (s *Service) acceptCommit(peer basics.ParticipantID, commit journal.Commit, ts journal.SemanticTime, delta evidence.Delta) {
	if commit.GroupKey != s.groupKey {
		s.log.Warnf("commit for %s from %s under foreign group key", commit.CommandID, peer)
		return
	}
	if err := crypto.ThresholdVerify(commit.SigMessage(), commit.GroupKey, commit.Sig); err != nil {
		s.log.Warnf("commit for %s from %s does not verify: %v", commit.CommandID, peer, err)
		return
	}
	s.mergeEvidence(delta)

	s.mu.Lock()
	s.clock.Join(commit.Clock)
	s.clock.Tick(s.me)
	inst, ok := s.instances[commit.CommandID]
	if !ok {
		// A replica outside the witness set adopts the fact directly.
		inst = &instance{cmd: Command{ID: commit.CommandID}, phase: Proposed, shares: make(map[basics.ParticipantID]recordedShare)}
		s.instances[commit.CommandID] = inst
	}
	s.adoptCommitLocked(inst, commit, ts, false)
	s.mu.Unlock()
}

// mergeEvidence admits a peer's evidence delta into the local store.  The
// validity-first register is only ever joined with verified signatures, so
// the signature component of each entry must verify against the local group
// key before it may merge; an entry that does not is stripped down to its
// attester and clock components.  Without this gate a forged signature
// would occupy the register forever and shadow the genuine commit.
func (s *Service) mergeEvidence(delta evidence.Delta) {
	for cmd, ev := range delta {
		if !ev.Sig.IsSet() {
			continue
		}
		claim := journal.ResultClaim{CommandID: cmd, ResultHash: ev.Sig.ResultHash}
		if ev.Sig.GroupKey != s.groupKey || crypto.ThresholdVerify(claim, s.groupKey, ev.Sig.Sig) != nil {
			s.log.Warnf("stripping unverifiable signature evidence for %s", cmd)
			ev.Sig = evidence.ValidityFirst{}
			delta[cmd] = ev
		}
	}
	s.evidence.Merge(delta)
}

// recordByzantineLocked flags a witness and surfaces the evidence.
func (s *Service) recordByzantineLocked(ev ByzantineEvidence) {
	s.log.Warnf("%s", ev)
	s.flagged[ev.Witness] = true
	select {
	case s.byz <- ev:
	default:
	}
}

func (s *Service) sendAll(outs []outbound) {
	for _, out := range outs {
		var err error
		switch {
		case out.relay:
			s.net.Relay(out.tag, out.data)
		case out.peer == nil:
			err = s.net.Broadcast(out.tag, out.data)
		default:
			err = s.net.Send(*out.peer, out.tag, out.data)
		}
		if err != nil {
			s.log.Debugf("send %s failed: %v", out.tag, err)
		}
	}
}
