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

package gossip

import (
	"fmt"

	"github.com/algorand/go-deadlock"

	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/protocol"
)

// Mesh is an in-process Network connecting a set of nodes directly.  It
// backs the simulation harness and tests; production deployments supply a
// real transport behind the Network interface instead.
type Mesh struct {
	mu    deadlock.Mutex
	nodes map[basics.ParticipantID]*MeshNode
}

// NewMesh creates an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{nodes: make(map[basics.ParticipantID]*MeshNode)}
}

// Join attaches a node to the mesh and returns its Network endpoint.
func (m *Mesh) Join(id basics.ParticipantID) *MeshNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := &MeshNode{id: id, mesh: m}
	m.nodes[id] = node
	return node
}

// Partition detaches a node, simulating an unreachable peer.  Messages to
// and from it are dropped silently, like a real partition.
func (m *Mesh) Partition(id basics.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[id]; ok {
		node.partitioned = true
	}
}

// Heal reattaches a partitioned node.
func (m *Mesh) Heal(id basics.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[id]; ok {
		node.partitioned = false
	}
}

func (m *Mesh) deliver(from, to basics.ParticipantID, tag protocol.Tag, data []byte) error {
	// The partition flags are guarded by m.mu; read them before releasing it.
	m.mu.Lock()
	src, srcOK := m.nodes[from]
	dst, dstOK := m.nodes[to]
	srcCut := srcOK && src.partitioned
	dstCut := dstOK && dst.partitioned
	m.mu.Unlock()

	if !srcOK || srcCut {
		return nil // sender partitioned: message silently lost
	}
	if !dstOK {
		return fmt.Errorf("gossip: unknown peer %s", to)
	}
	if dstCut {
		return nil
	}
	sink := dst.getSink()
	if sink == nil {
		return nil
	}
	// Copy so a handler cannot observe later mutation by the sender.
	buf := make([]byte, len(data))
	copy(buf, data)
	sink(from, tag, buf)
	return nil
}

// MeshNode is one endpoint of a Mesh.
type MeshNode struct {
	id          basics.ParticipantID
	mesh        *Mesh
	partitioned bool // guarded by mesh.mu

	mu   deadlock.Mutex
	sink func(from basics.ParticipantID, tag protocol.Tag, data []byte)
}

// SetSink installs the inbound delivery function, typically
// Disseminator.Dispatch.
func (n *MeshNode) SetSink(sink func(from basics.ParticipantID, tag protocol.Tag, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = sink
}

func (n *MeshNode) getSink() func(from basics.ParticipantID, tag protocol.Tag, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sink
}

// Broadcast implements Network.
func (n *MeshNode) Broadcast(tag protocol.Tag, data []byte) error {
	for _, peer := range n.Peers() {
		if err := n.mesh.deliver(n.id, peer, tag, data); err != nil {
			return err
		}
	}
	return nil
}

// Send implements Network.
func (n *MeshNode) Send(peer basics.ParticipantID, tag protocol.Tag, data []byte) error {
	return n.mesh.deliver(n.id, peer, tag, data)
}

// Peers implements Network.  The local node is excluded.
func (n *MeshNode) Peers() []basics.ParticipantID {
	n.mesh.mu.Lock()
	defer n.mesh.mu.Unlock()
	out := make([]basics.ParticipantID, 0, len(n.mesh.nodes)-1)
	for id := range n.mesh.nodes {
		if id != n.id {
			out = append(out, id)
		}
	}
	// Deterministic peer order; random sampling happens in the disseminator.
	sortParticipants(out)
	return out
}

func sortParticipants(ids []basics.ParticipantID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j].Less(ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
