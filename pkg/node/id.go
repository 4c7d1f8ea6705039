// Package node defines the identity of a runtime node in the BASP network.
package node

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HostIDSize is the length of the host fingerprint in bytes.
const HostIDSize = 20

// WireSize is the encoded size of an ID: u32 process id followed by the host id.
const WireSize = 4 + HostIDSize

// ID identifies a node by process id and host fingerprint.
// The zero value is the invalid node.
type ID struct {
	ProcessID uint32
	HostID    [HostIDSize]byte
}

// Invalid is the sentinel for "no node".
var Invalid ID

// ErrBadID is returned by Parse and Decode for malformed input.
var ErrBadID = errors.New("node: malformed id")

// New builds an ID from a process id and host fingerprint.
func New(pid uint32, host [HostIDSize]byte) ID { return ID{ProcessID: pid, HostID: host} }

// FromPublicKey derives the host fingerprint from a public key.
func FromPublicKey(pid uint32, pub []byte) ID {
	sum := sha256.Sum256(pub)
	var host [HostIDSize]byte
	copy(host[:], sum[:HostIDSize])
	return ID{ProcessID: pid, HostID: host}
}

// Valid reports whether id differs from Invalid.
func (id ID) Valid() bool { return id != Invalid }

// String renders "<pid>#<hex host>", or "invalid-node".
func (id ID) String() string {
	if !id.Valid() {
		return "invalid-node"
	}
	return strconv.FormatUint(uint64(id.ProcessID), 10) + "#" + hex.EncodeToString(id.HostID[:])
}

// Compare orders ids by host then process id.
func (id ID) Compare(other ID) int {
	for i := range id.HostID {
		if id.HostID[i] != other.HostID[i] {
			if id.HostID[i] < other.HostID[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case id.ProcessID < other.ProcessID:
		return -1
	case id.ProcessID > other.ProcessID:
		return 1
	}
	return 0
}

// Put writes the wire form of id into dst, which must hold WireSize bytes.
func (id ID) Put(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], id.ProcessID)
	copy(dst[4:WireSize], id.HostID[:])
}

// Decode reads an ID from the first WireSize bytes of b.
func Decode(b []byte) (ID, error) {
	if len(b) < WireSize {
		return Invalid, ErrBadID
	}
	var id ID
	id.ProcessID = binary.BigEndian.Uint32(b[0:4])
	copy(id.HostID[:], b[4:WireSize])
	return id, nil
}

// Parse is the inverse of String.
func Parse(s string) (ID, error) {
	pid, host, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return Invalid, fmt.Errorf("%w: missing '#' in %q", ErrBadID, s)
	}
	p, err := strconv.ParseUint(pid, 10, 32)
	if err != nil {
		return Invalid, fmt.Errorf("%w: process id: %v", ErrBadID, err)
	}
	raw, err := hex.DecodeString(host)
	if err != nil || len(raw) != HostIDSize {
		return Invalid, fmt.Errorf("%w: host id %q", ErrBadID, host)
	}
	var id ID
	id.ProcessID = uint32(p)
	copy(id.HostID[:], raw)
	return id, nil
}
