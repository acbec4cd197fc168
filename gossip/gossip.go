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

// Package gossip implements the best-effort epidemic disseminator used for
// evidence propagation and the consensus fallback path.  It is decoupled
// from the safety-critical fast path: losing or duplicating gossip messages
// affects convergence speed only, never safety.
package gossip

import (
	"math/rand"

	"github.com/algorand/go-deadlock"

	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/logging"
	"github.com/chorus-net/chorus/protocol"
)

// Network is the abstract transport the disseminator runs over.  Transport
// encryption, peer discovery and rendezvous live behind this interface.
type Network interface {
	// Broadcast delivers data to every reachable peer, best effort.
	Broadcast(tag protocol.Tag, data []byte) error

	// Send delivers data to one peer, best effort.
	Send(peer basics.ParticipantID, tag protocol.Tag, data []byte) error

	// Peers lists currently reachable peers.
	Peers() []basics.ParticipantID
}

// Handler consumes an inbound message for a registered tag.
type Handler func(peer basics.ParticipantID, data []byte)

// Disseminator fans messages out to bounded random peer subsets and routes
// inbound messages to per-tag handlers.
type Disseminator struct {
	mu deadlock.Mutex

	net      Network
	fanout   int
	rng      *rand.Rand
	handlers map[protocol.Tag]Handler

	log logging.Logger
}

// MakeDisseminator creates a disseminator with the given fan-out bound.
// The random source is injected so tests can drive peer selection
// deterministically.
func MakeDisseminator(net Network, fanout int, rng *rand.Rand, log logging.Logger) *Disseminator {
	return &Disseminator{
		net:      net,
		fanout:   fanout,
		rng:      rng,
		handlers: make(map[protocol.Tag]Handler),
		log:      log,
	}
}

// RegisterHandler routes inbound messages with the given tag to h.
// The last registration for a tag wins.
func (d *Disseminator) RegisterHandler(tag protocol.Tag, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tag] = h
}

// Dispatch routes one inbound message.  The transport calls this for every
// message it delivers to the local node.
func (d *Disseminator) Dispatch(peer basics.ParticipantID, tag protocol.Tag, data []byte) {
	d.mu.Lock()
	h, ok := d.handlers[tag]
	d.mu.Unlock()
	if !ok {
		d.log.Debugf("no handler for tag %s, dropping message from %s", tag, peer)
		return
	}
	h(peer, data)
}

// Broadcast sends to every reachable peer.  The fast path uses this for
// Execute and Commit messages.
func (d *Disseminator) Broadcast(tag protocol.Tag, data []byte) error {
	return d.net.Broadcast(tag, data)
}

// Send delivers to a single peer.
func (d *Disseminator) Send(peer basics.ParticipantID, tag protocol.Tag, data []byte) error {
	return d.net.Send(peer, tag, data)
}

// Relay forwards data to a random peer subset bounded by the configured
// fan-out.  One relay round per gossip interval yields expected convergence
// logarithmic in peer count; this is a liveness property only.
func (d *Disseminator) Relay(tag protocol.Tag, data []byte) {
	for _, peer := range d.pickPeers() {
		if err := d.net.Send(peer, tag, data); err != nil {
			d.log.Debugf("relay to %s failed: %v", peer, err)
		}
	}
}

func (d *Disseminator) pickPeers() []basics.ParticipantID {
	peers := d.net.Peers()
	d.mu.Lock()
	d.rng.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
	d.mu.Unlock()
	if len(peers) > d.fanout {
		peers = peers[:d.fanout]
	}
	return peers
}
