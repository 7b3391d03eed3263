package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBooking_Participant(t *testing.T) {
	b := &Booking{ID: "b1", CustomerID: "c1", WorkerID: "w1"}

	assert.True(t, b.Participant("c1", RoleCustomer))
	assert.True(t, b.Participant("w1", RoleWorker))
	assert.True(t, b.Participant("anyone", RoleAdmin))
	assert.False(t, b.Participant("u3", RoleCustomer))

	// Unassigned worker slot matches nobody.
	unassigned := &Booking{ID: "b2", CustomerID: "c1"}
	assert.False(t, unassigned.Participant("", RoleWorker))
}

func TestValidStatusAdvance(t *testing.T) {
	assert.True(t, ValidStatusAdvance(MessageSent, MessageDelivered))
	assert.True(t, ValidStatusAdvance(MessageSent, MessageRead))
	assert.True(t, ValidStatusAdvance(MessageDelivered, MessageRead))

	assert.False(t, ValidStatusAdvance(MessageDelivered, MessageSent))
	assert.False(t, ValidStatusAdvance(MessageRead, MessageDelivered))
	assert.False(t, ValidStatusAdvance(MessageRead, MessageSent))
	assert.False(t, ValidStatusAdvance(MessageSent, MessageSent))
}

func TestNotification_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&Notification{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&Notification{ExpiresAt: &future}).Expired(now))
	assert.False(t, (&Notification{}).Expired(now))
}
