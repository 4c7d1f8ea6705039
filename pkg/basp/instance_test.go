package basp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"basp/pkg/protocol"
)

func TestDefaultAppID(t *testing.T) {
	inst := New(testNode(1), newRecorder(), Options{})
	assert.Equal(t, []string{protocol.DefaultAppID}, inst.appIDs)
	assert.Equal(t, protocol.HeaderSize, inst.Expected(1))
}

func TestPublishedActors(t *testing.T) {
	inst := New(testNode(1), newRecorder(), Options{})
	inst.AddPublishedActor(80, 7, []string{"calc"})
	inst.AddPublishedActor(81, 7, nil)
	inst.AddPublishedActor(82, 8, nil)

	pa, ok := inst.Published(80)
	assert.True(t, ok)
	assert.Equal(t, PublishedActor{Actor: 7, Interface: []string{"calc"}}, pa)

	assert.Zero(t, inst.RemovePublishedActorByID(8, 80, nil))
	assert.Zero(t, inst.RemovePublishedActor(99, nil))

	var ports []uint16
	n := inst.RemovePublishedActorByID(7, 0, func(_ PublishedActor, port uint16) { ports = append(ports, port) })
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []uint16{80, 81}, ports)

	assert.Equal(t, 1, inst.RemovePublishedActorByID(8, 82, nil))
	_, ok = inst.Published(82)
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "await_header", AwaitHeader.String())
	assert.Equal(t, "await_payload", AwaitPayload.String())
	assert.Equal(t, "closed", Closed.String())
}
