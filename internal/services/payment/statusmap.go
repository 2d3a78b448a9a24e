package payment

import (
	"strings"

	"github.com/openlms/pesepay-gateway/internal/domain/models"
)

// processorStatusMap is the fixed vocabulary Pesepay uses in webhook
// notifications, mapped to local status. Anything not listed here maps to
// pending: an unrecognized status must never settle or fail a transaction.
var processorStatusMap = map[string]models.TransactionStatus{
	"SUCCESS":               models.StatusPaid,
	"PARTIALLY_PAID":        models.StatusPending,
	"PENDING":               models.StatusPending,
	"PROCESSING":            models.StatusPending,
	"INITIATED":             models.StatusPending,
	"SERVICE_UNAVAILABLE":   models.StatusPending,
	"AUTHORIZATION_FAILED":  models.StatusFailed,
	"DECLINED":              models.StatusFailed,
	"FAILED":                models.StatusFailed,
	"ERROR":                 models.StatusFailed,
	"TIME_OUT":              models.StatusFailed,
	"CANCELLED":             models.StatusFailed,
	"INSUFFICIENT_FUNDS":    models.StatusFailed,
	"REVERSED":              models.StatusFailed,
	"TERMINATED":            models.StatusFailed,
	"CLOSED":                models.StatusFailed,
	"CLOSED_PERIOD_ELAPSED": models.StatusFailed,
}

// MapProcessorStatus maps a Pesepay transaction status (case-insensitive) to
// local status. The second return value is false when the status was unknown
// or absent, in which case the mapping defaults to pending.
func MapProcessorStatus(raw string) (models.TransactionStatus, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if key == "" {
		return models.StatusPending, false
	}
	status, ok := processorStatusMap[key]
	if !ok {
		return models.StatusPending, false
	}
	return status, true
}
