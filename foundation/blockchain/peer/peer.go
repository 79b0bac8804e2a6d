// Package peer maintains the peer related information such as the set
// of known peers and the last status each of them announced.
package peer

import (
	"slices"
	"sync"
	"time"
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host string
}

// New constructs a new peer value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// Status represents the last state a peer announced in a hello.
type Status struct {
	Height              uint64    `json:"height"`
	Checksum            []byte    `json:"checksum"`
	WalletStateChecksum []byte    `json:"wallet_state_checksum"`
	Operating           bool      `json:"operating"`
	LastSeen            time.Time `json:"last_seen"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]Status
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]Status),
	}
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = Status{}
		return true
	}

	return false
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Update records the status a peer announced, adding the peer when it
// isn't known yet. It returns true when the peer is new.
func (ps *PeerSet) Update(peer Peer, status Status) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	status.Checksum = slices.Clone(status.Checksum)
	status.WalletStateChecksum = slices.Clone(status.WalletStateChecksum)
	ps.set[peer] = status

	return !exists
}

// Status returns the last status announced by the peer.
func (ps *PeerSet) Status(peer Peer) (Status, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	status, exists := ps.set[peer]
	return status, exists
}

// Expire removes the peers that announced themselves before the cutoff.
// Peers that never announced a status are kept.
func (ps *PeerSet) Expire(cutoff time.Time) []Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var removed []Peer
	for peer, status := range ps.set {
		if !status.LastSeen.IsZero() && status.LastSeen.Before(cutoff) {
			delete(ps.set, peer)
			removed = append(removed, peer)
		}
	}

	return removed
}

// Copy returns a list of the known peers.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// Hosts returns the sorted hosts of the known peers, excluding host.
func (ps *PeerSet) Hosts(host string) []string {
	peers := ps.Copy(host)

	hosts := make([]string, len(peers))
	for i, peer := range peers {
		hosts[i] = peer.Host
	}
	slices.Sort(hosts)

	return hosts
}

// Highest returns the operating peer announcing the greatest height.
func (ps *PeerSet) Highest() (Peer, Status, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var best Peer
	var bestStatus Status
	var found bool

	for peer, status := range ps.set {
		if !status.Operating {
			continue
		}
		if !found || status.Height > bestStatus.Height || (status.Height == bestStatus.Height && peer.Host < best.Host) {
			best, bestStatus, found = peer, status, true
		}
	}

	return best, bestStatus, found
}
