package models_test

import (
	"testing"

	"github.com/openlms/pesepay-gateway/internal/domain/models"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    models.TransactionStatus
		settled bool
		to      models.TransactionStatus
		allowed bool
	}{
		{"initiated to pending", models.StatusInitiated, false, models.StatusPending, true},
		{"initiated to paid", models.StatusInitiated, false, models.StatusPaid, true},
		{"initiated to failed", models.StatusInitiated, false, models.StatusFailed, true},
		{"pending to paid", models.StatusPending, false, models.StatusPaid, true},
		{"pending to failed", models.StatusPending, false, models.StatusFailed, true},
		{"failed can recover to pending", models.StatusFailed, false, models.StatusPending, true},
		{"failed can recover to paid", models.StatusFailed, false, models.StatusPaid, true},
		{"settled paid is terminal for pending", models.StatusPaid, true, models.StatusPending, false},
		{"settled paid is terminal for failed", models.StatusPaid, true, models.StatusFailed, false},
		{"settled paid is terminal for initiated", models.StatusPaid, true, models.StatusInitiated, false},
		{"unsettled paid reverts to pending", models.StatusPaid, false, models.StatusPending, true},
		{"same state replay allowed", models.StatusPaid, true, models.StatusPaid, true},
		{"pending replay allowed", models.StatusPending, false, models.StatusPending, true},
		{"nothing regresses to initiated", models.StatusPending, false, models.StatusInitiated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := &models.Transaction{Status: tt.from}
			if tt.settled {
				paymentID := int64(555)
				txn.PaymentID = &paymentID
			}
			assert.Equal(t, tt.allowed, txn.CanTransitionTo(tt.to))
		})
	}
}

func TestTransaction_IsSettled(t *testing.T) {
	txn := &models.Transaction{Status: models.StatusPaid}
	assert.False(t, txn.IsSettled(), "paid without payment id is not settled")

	paymentID := int64(555)
	txn.PaymentID = &paymentID
	assert.True(t, txn.IsSettled())
}

func TestTransaction_HasVerificationData(t *testing.T) {
	txn := &models.Transaction{}
	assert.False(t, txn.HasVerificationData())

	txn.PollURL = "https://api.pesepay.com/poll/abc"
	assert.True(t, txn.HasVerificationData())

	txn.PollURL = ""
	txn.ProcessorRef = "PSP-1001"
	assert.True(t, txn.HasVerificationData())
}
