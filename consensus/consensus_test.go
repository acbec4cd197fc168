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
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus/config"
	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/evidence"
	"github.com/chorus-net/chorus/gossip"
	"github.com/chorus-net/chorus/journal"
	"github.com/chorus-net/chorus/logging"
	"github.com/chorus-net/chorus/protocol"
	"github.com/chorus-net/chorus/testpartition"
)

type clusterNode struct {
	id      basics.ParticipantID
	secrets *crypto.SignatureSecrets
	journal *journal.Journal
	ev      *evidence.Store
	svc     *Service
}

type cluster struct {
	mesh  *gossip.Mesh
	ns    basics.Namespace
	group WitnessGroup
	nodes []*clusterNode
}

// makeCluster builds `witnesses` witness nodes plus `extras` non-witness
// replicas, all sharing one in-process mesh and one namespace.
func makeCluster(t *testing.T, witnesses int, threshold uint8, extras int, cfg config.Params) *cluster {
	c := &cluster{
		mesh: gossip.NewMesh(),
		ns:   basics.AuthorityNamespace(basics.AuthorityID(crypto.Hash([]byte("cluster")))),
	}

	total := witnesses + extras
	var members []basics.ParticipantID
	for i := 0; i < total; i++ {
		var seed crypto.Seed
		seed[0] = byte(i + 1)
		sk := crypto.GenerateSignatureSecrets(seed)
		node := &clusterNode{
			id:      basics.ParticipantID(sk.SignatureVerifier),
			secrets: sk,
			journal: journal.New(c.ns, logging.TestingLog(t)),
			ev:      evidence.NewStore(),
		}
		c.nodes = append(c.nodes, node)
		if i < witnesses {
			members = append(members, node.id)
		}
	}

	group, err := MakeWitnessGroup(threshold, members)
	require.NoError(t, err)
	c.group = group

	for i, node := range c.nodes {
		endpoint := c.mesh.Join(node.id)
		diss := gossip.MakeDisseminator(endpoint, cfg.GossipFanout, rand.New(rand.NewSource(int64(i))), logging.TestingLog(t))
		svc, err := MakeService(Parameters{
			Me:       node.id,
			Secrets:  node.secrets,
			Group:    group,
			Journal:  node.journal,
			Evidence: node.ev,
			Net:      diss,
			Config:   cfg,
			Log:      logging.TestingLog(t),
		})
		require.NoError(t, err)
		node.svc = svc
		endpoint.SetSink(diss.Dispatch)
		t.Cleanup(svc.Stop)
	}
	return c
}

func fastPathConfig() config.Params {
	cfg := config.DefaultParams
	cfg.GossipFanout = 3
	cfg.FallbackAfter = time.Hour // keep the timer out of fast-path tests
	return cfg
}

func fallbackConfig() config.Params {
	cfg := config.DefaultParams
	cfg.GossipFanout = 3
	cfg.GossipInterval = 20 * time.Millisecond
	cfg.FallbackAfter = 100 * time.Millisecond
	return cfg
}

func commitFactsOf(j *journal.Journal) []journal.Fact {
	var out []journal.Fact
	for _, f := range j.Facts() {
		if f.Content.Kind == journal.KindCommit {
			out = append(out, f)
		}
	}
	return out
}

// expectedResult recomputes the result hash a command should agree on when
// executed against the given journal contents.
func expectedResult(t *testing.T, c *cluster, cmdID basics.CommandID, payload []byte, j *journal.Journal) crypto.Digest {
	state, err := j.Reduce()
	require.NoError(t, err)
	cmd := Command{ID: cmdID, Namespace: c.ns, Parent: state.Head(), Payload: payload}
	return ResultHash(cmd, state.Hash())
}

func TestFastPathCommitsInOneRoundTrip(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	reference := journal.New(c.ns, logging.TestingLog(t))

	payload := []byte("add-device")
	cmdID, err := c.nodes[0].svc.Propose(payload)
	require.NoError(t, err)

	// The in-process mesh delivers synchronously, so the whole fast path
	// completed inside Propose.
	want := expectedResult(t, c, cmdID, payload, reference)
	var orders []journal.OrderToken
	for _, node := range c.nodes {
		require.Equal(t, Committed, node.svc.Phase(cmdID), "node %s", node.id)

		got, ok := node.svc.Result(cmdID)
		require.True(t, ok)
		require.Equal(t, want, got)

		commits := commitFactsOf(node.journal)
		require.Len(t, commits, 1)
		require.Equal(t, want, commits[0].Content.Commit.ResultHash)
		require.GreaterOrEqual(t, len(commits[0].Content.Commit.Attesters), 3)
		orders = append(orders, commits[0].Order)
	}
	// Byte-identical commit facts everywhere.
	for _, tok := range orders[1:] {
		require.Equal(t, orders[0], tok)
	}
}

func TestRefusingWitnessDoesNotBlockOthers(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	refusing := c.nodes[3]
	refusing.svc.auth = denyAll{}

	cmdID, err := c.nodes[0].svc.Propose([]byte("p"))
	require.NoError(t, err)

	require.Equal(t, Committed, c.nodes[0].svc.Phase(cmdID))
	commits := commitFactsOf(c.nodes[0].journal)
	require.Len(t, commits, 1)
	require.NotContains(t, commits[0].Content.Commit.Attesters, refusing.id)

	// The refusing witness still learns the outcome from the broadcast.
	require.Len(t, commitFactsOf(refusing.journal), 1)
}

type denyAll struct{}

func (denyAll) Authorize(Command, basics.ParticipantID) error {
	return errors.New("policy refuses everything")
}

func TestReplayedShareCountsOnce(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	s := c.nodes[0].svc
	witness := c.nodes[1]

	state, err := s.journal.Reduce()
	require.NoError(t, err)
	cmd := Command{ID: basics.NewCommandID(), Namespace: c.ns, Parent: state.Head(), Payload: []byte("p")}
	result := ResultHash(cmd, state.Hash())
	partial, err := c.group.Sign(journal.ResultClaim{CommandID: cmd.ID, ResultHash: result}, witness.secrets)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := &instance{cmd: cmd, phase: CollectingShares, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst

	share := recordedShare{Result: result, Partial: partial}
	require.True(t, s.addShareLocked(inst, witness.id, share))
	require.False(t, s.addShareLocked(inst, witness.id, share), "replay is a no-op")
	require.Len(t, inst.shares, 1)
	require.Equal(t, 1, s.tallyLocked(inst)[result])
	require.False(t, s.flagged[witness.id], "a replay is not misbehavior")
}

func TestEquivocatingWitnessFlagged(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	s := c.nodes[0].svc
	witness := c.nodes[1]

	cmd := Command{ID: basics.NewCommandID(), Namespace: c.ns, Payload: []byte("p")}
	resultA := crypto.Hash([]byte("result-a"))
	resultB := crypto.Hash([]byte("result-b"))
	partialA, err := c.group.Sign(journal.ResultClaim{CommandID: cmd.ID, ResultHash: resultA}, witness.secrets)
	require.NoError(t, err)
	partialB, err := c.group.Sign(journal.ResultClaim{CommandID: cmd.ID, ResultHash: resultB}, witness.secrets)
	require.NoError(t, err)

	s.mu.Lock()
	inst := &instance{cmd: cmd, phase: CollectingShares, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst
	require.True(t, s.addShareLocked(inst, witness.id, recordedShare{Result: resultA, Partial: partialA}))
	require.False(t, s.addShareLocked(inst, witness.id, recordedShare{Result: resultB, Partial: partialB}))

	require.True(t, s.flagged[witness.id])
	require.Empty(t, inst.shares, "an equivocator's shares are discarded")

	// Once flagged, even well-formed shares are ignored.
	require.False(t, s.addShareLocked(inst, witness.id, recordedShare{Result: resultA, Partial: partialA}))
	s.mu.Unlock()

	select {
	case ev := <-s.ByzantineMonitor():
		require.Equal(t, ReasonEquivocation, ev.Reason)
		require.Equal(t, witness.id, ev.Witness)
	default:
		t.Fatal("no byzantine evidence surfaced")
	}
}

func TestForgedSignatureEvidenceStripped(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	victim := c.nodes[0]
	attacker := c.nodes[3]

	// A fabricated signature over a result no witness ever derived,
	// piggybacked on an ordinary execute message.
	forgedCmd := basics.NewCommandID()
	var subsigs []crypto.ThresholdSubsig
	for _, pk := range c.group.PublicKeys() {
		var garbage crypto.Signature
		garbage[0] = 0xff
		subsigs = append(subsigs, crypto.ThresholdSubsig{Key: pk, Sig: garbage})
	}
	forged := evidence.ValidityFirst{
		ResultHash: crypto.Hash([]byte("attacker result")),
		GroupKey:   victim.svc.groupKey,
		Sig:        crypto.ThresholdSig{Version: 1, Threshold: 3, Subsigs: subsigs},
	}
	msg := executeMsg{
		Command:   Command{ID: basics.NewCommandID(), Namespace: c.ns, Payload: []byte("bait")},
		Initiator: attacker.id,
		Evidence: evidence.Delta{
			forgedCmd: {Sig: forged, Attesters: evidence.AddSet{}.Add(attacker.id)},
		},
	}
	victim.svc.handleExecute(attacker.id, protocol.Encode(&msg))

	// The register never admits the unverifiable signature.
	_, ok := victim.svc.Result(forgedCmd)
	require.False(t, ok, "forged signature must not become the agreed result")
	_, ok = victim.ev.Signature(forgedCmd)
	require.False(t, ok)

	// The benign components of the same delta still merge.
	ev, ok := victim.ev.Get(forgedCmd)
	require.True(t, ok)
	require.True(t, ev.Attesters[attacker.id])

	// A genuine below-threshold partial is rejected from the register too.
	claim := journal.ResultClaim{CommandID: forgedCmd, ResultHash: forged.ResultHash}
	partial, err := c.group.Sign(claim, attacker.secrets)
	require.NoError(t, err)
	msg.Evidence = evidence.Delta{
		forgedCmd: {Sig: evidence.ValidityFirst{ResultHash: forged.ResultHash, GroupKey: victim.svc.groupKey, Sig: partial}},
	}
	victim.svc.handleExecute(attacker.id, protocol.Encode(&msg))
	_, ok = victim.ev.Signature(forgedCmd)
	require.False(t, ok, "a single partial cannot pose as a group signature")

	// The poisoning attempt does not impede genuine agreement.
	cmdID, err := victim.svc.Propose([]byte("real"))
	require.NoError(t, err)
	require.Equal(t, Committed, victim.svc.Phase(cmdID))
	sig, ok := victim.ev.Signature(cmdID)
	require.True(t, ok)
	require.NoError(t, crypto.ThresholdVerify(journal.ResultClaim{CommandID: cmdID, ResultHash: sig.ResultHash}, victim.svc.groupKey, sig.Sig))
}

func TestInconsistentShareFlagged(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	s := c.nodes[0].svc
	witness := c.nodes[1]

	state, err := s.journal.Reduce()
	require.NoError(t, err)
	cmd := Command{ID: basics.NewCommandID(), Namespace: c.ns, Parent: state.Head(), Payload: []byte("p")}
	result := ResultHash(cmd, state.Hash())
	partial, err := c.group.Sign(journal.ResultClaim{CommandID: cmd.ID, ResultHash: result}, witness.secrets)
	require.NoError(t, err)

	// Signing is deterministic, so a second distinct signature over the same
	// claim cannot come from an honest witness.
	doctored := partial
	doctored.Subsigs = append([]crypto.ThresholdSubsig(nil), partial.Subsigs...)
	for i := range doctored.Subsigs {
		if !doctored.Subsigs[i].Sig.Blank() {
			doctored.Subsigs[i].Sig[0] ^= 0x01
		}
	}

	s.mu.Lock()
	inst := &instance{cmd: cmd, phase: CollectingShares, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst
	inst.shares[witness.id] = recordedShare{Result: result, Partial: doctored}

	require.False(t, s.addShareLocked(inst, witness.id, recordedShare{Result: result, Partial: partial}))
	require.True(t, s.flagged[witness.id])
	require.Empty(t, inst.shares)
	s.mu.Unlock()

	select {
	case ev := <-s.ByzantineMonitor():
		require.Equal(t, ReasonInconsistentShare, ev.Reason)
		require.Equal(t, witness.id, ev.Witness)
	default:
		t.Fatal("no byzantine evidence surfaced")
	}
}

func TestProposeRefusedByPolicy(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	c.nodes[0].svc.auth = denyAll{}

	_, err := c.nodes[0].svc.Propose([]byte("p"))
	require.ErrorIs(t, err, ErrNotAuthorized)
	for _, node := range c.nodes {
		require.Empty(t, commitFactsOf(node.journal))
	}
}

func TestMalformedShareRejected(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	s := c.nodes[0].svc
	witness := c.nodes[1]

	cmd := Command{ID: basics.NewCommandID(), Namespace: c.ns, Payload: []byte("p")}
	result := crypto.Hash([]byte("result"))
	partial, err := c.group.Sign(journal.ResultClaim{CommandID: cmd.ID, ResultHash: result}, witness.secrets)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := &instance{cmd: cmd, phase: CollectingShares, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst

	// A share claiming a result its signature does not cover.
	require.False(t, s.addShareLocked(inst, witness.id, recordedShare{
		Result:  crypto.Hash([]byte("другой")),
		Partial: partial,
	}))
	require.True(t, s.flagged[witness.id])

	// A share claimed by a witness who did not produce it.
	require.False(t, s.addShareLocked(inst, c.nodes[2].id, recordedShare{Result: result, Partial: partial}))
}

func TestCommitRequiresThreshold(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	s := c.nodes[0].svc

	state, err := s.journal.Reduce()
	require.NoError(t, err)
	cmd := Command{ID: basics.NewCommandID(), Namespace: c.ns, Parent: state.Head(), Payload: []byte("p")}
	result := ResultHash(cmd, state.Hash())
	claim := journal.ResultClaim{CommandID: cmd.ID, ResultHash: result}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := &instance{cmd: cmd, phase: CollectingShares, shares: make(map[basics.ParticipantID]recordedShare)}
	s.instances[cmd.ID] = inst

	for i := 1; i <= 2; i++ {
		partial, err := c.group.Sign(claim, c.nodes[i].secrets)
		require.NoError(t, err)
		require.True(t, s.addShareLocked(inst, c.nodes[i].id, recordedShare{Result: result, Partial: partial}))
	}
	require.Empty(t, s.maybeCommitLocked(inst), "two of four shares cannot commit at threshold three")
	require.Equal(t, CollectingShares, inst.phase)

	partial, err := c.group.Sign(claim, c.nodes[3].secrets)
	require.NoError(t, err)
	require.True(t, s.addShareLocked(inst, c.nodes[3].id, recordedShare{Result: result, Partial: partial}))
	outs := s.maybeCommitLocked(inst)
	require.NotEmpty(t, outs)
	require.Equal(t, Committed, inst.phase)

	commits := commitFactsOf(s.journal)
	require.Len(t, commits, 1)
	require.Equal(t, result, commits[0].Content.Commit.ResultHash)
	require.Len(t, commits[0].Content.Commit.Attesters, 3)
}

// budgetFact builds a valid budget charge fact used to diverge journals.
func budgetFact(cum uint64) journal.Fact {
	var peer basics.ParticipantID
	peer[0] = 42
	return journal.NewFact(journal.SemanticTime{UnixMilli: 7}, journal.FactContent{
		Kind: journal.KindBudgetCharge,
		Budget: &journal.BudgetCharge{
			Context:    basics.ContextID(crypto.Hash([]byte("ctx"))),
			Peer:       peer,
			Epoch:      1,
			Cumulative: cum,
		},
	})
}

func TestSplitFastPathFallsBackAndConverges(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fallbackConfig())

	// Two witnesses hold a fact the other two have not seen yet, so the
	// fast path splits two against two and no result can reach three.
	extra := budgetFact(100)
	require.NoError(t, c.nodes[0].journal.Insert(extra))
	require.NoError(t, c.nodes[1].journal.Insert(extra))

	payload := []byte("contested")
	cmdID, err := c.nodes[0].svc.Propose(payload)
	require.NoError(t, err)

	// The richer prestate wins: journal anti-entropy during fallback
	// brings the lagging witnesses up to the proposer's prestate.
	want := expectedResult(t, c, cmdID, payload, c.nodes[0].journal)

	require.Eventually(t, func() bool {
		for _, node := range c.nodes {
			if len(commitFactsOf(node.journal)) != 1 {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond, "fallback did not converge")

	var orders []journal.OrderToken
	for _, node := range c.nodes {
		commits := commitFactsOf(node.journal)
		require.Len(t, commits, 1, "exactly one commit ever forms")
		require.Equal(t, want, commits[0].Content.Commit.ResultHash)
		orders = append(orders, commits[0].Order)

		sig, ok := node.ev.Signature(cmdID)
		require.True(t, ok)
		require.Equal(t, want, sig.ResultHash)
		require.True(t, node.journal.Contains(extra.Order), "anti-entropy delivered the missing fact")
	}
	for _, tok := range orders[1:] {
		require.Equal(t, orders[0], tok)
	}
}

func TestFallbackRecoversFromPartition(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 2, 2, 0, fallbackConfig())
	c.mesh.Partition(c.nodes[1].id)

	cmdID, err := c.nodes[0].svc.Propose([]byte("p"))
	require.NoError(t, err)
	require.NotEqual(t, Committed, c.nodes[0].svc.Phase(cmdID), "one of two shares cannot commit")

	// Let the fast-path deadline pass, then heal.
	time.Sleep(150 * time.Millisecond)
	c.mesh.Heal(c.nodes[1].id)

	require.Eventually(t, func() bool {
		return len(commitFactsOf(c.nodes[0].journal)) == 1 &&
			len(commitFactsOf(c.nodes[1].journal)) == 1
	}, 10*time.Second, 10*time.Millisecond)

	require.Equal(t, Committed, c.nodes[1].svc.Phase(cmdID))
}

// cappedBudget refuses charges past a fixed limit.
type cappedBudget struct {
	limit uint64
	spent map[basics.ContextID]map[basics.ParticipantID]uint64
}

func (b *cappedBudget) Charge(ctx basics.ContextID, peer basics.ParticipantID, units uint64) error {
	if b.Spent(ctx, peer)+units > b.limit {
		return errors.New("over budget")
	}
	if b.spent == nil {
		b.spent = make(map[basics.ContextID]map[basics.ParticipantID]uint64)
	}
	if b.spent[ctx] == nil {
		b.spent[ctx] = make(map[basics.ParticipantID]uint64)
	}
	b.spent[ctx][peer] += units
	return nil
}

func (b *cappedBudget) Spent(ctx basics.ContextID, peer basics.ParticipantID) uint64 {
	return b.spent[ctx][peer]
}

func TestBudgetVetoStopsProposal(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 0, fastPathConfig())
	proposer := c.nodes[0]
	budget := &cappedBudget{limit: 1}
	proposer.svc.budget = budget

	cmdID, err := proposer.svc.Propose([]byte("first"))
	require.NoError(t, err)
	require.Equal(t, Committed, proposer.svc.Phase(cmdID))
	require.Equal(t, uint64(1), budget.Spent(basics.ContextID(c.ns.ID), proposer.id))

	// The veto fires before anything reaches the network.
	_, err = proposer.svc.Propose([]byte("second"))
	require.Error(t, err)
	for _, node := range c.nodes {
		require.Len(t, commitFactsOf(node.journal), 1)
	}
}

func TestNonWitnessReplicaAdoptsCommit(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	c := makeCluster(t, 4, 3, 1, fastPathConfig())
	observer := c.nodes[4]
	require.False(t, c.group.Contains(observer.id))

	cmdID, err := c.nodes[0].svc.Propose([]byte("p"))
	require.NoError(t, err)

	commits := commitFactsOf(observer.journal)
	require.Len(t, commits, 1, "observer adopted the broadcast commit")
	require.Equal(t, Committed, observer.svc.Phase(cmdID))
	require.Equal(t, commitFactsOf(c.nodes[0].journal)[0].Order, commits[0].Order)
}
