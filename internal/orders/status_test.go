package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusProcessing, StatusShipped))
	assert.True(t, CanTransition(StatusConfirmed, StatusCancelled))

	assert.False(t, CanTransition(StatusShipped, StatusCancelled))
	assert.False(t, CanTransition(StatusDelivered, StatusShipped))
	assert.False(t, CanTransition(StatusCancelled, StatusConfirmed))
	assert.False(t, CanTransition(StatusConfirmed, StatusConfirmed))
	assert.False(t, CanTransition("bogus", StatusConfirmed))

	assert.True(t, StatusDelivered.Valid())
	assert.False(t, Status("lost").Valid())
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentPaid))
	assert.True(t, CanTransitionPayment(PaymentFailed, PaymentPaid))
	assert.True(t, CanTransitionPayment(PaymentPaid, PaymentRefunded))

	assert.False(t, CanTransitionPayment(PaymentRefunded, PaymentPaid))
	assert.False(t, CanTransitionPayment(PaymentPending, PaymentRefunded))
	assert.False(t, PaymentStatus("chargeback").Valid())
}
