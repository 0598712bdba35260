package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaseKey_GlobalStrategyIgnoresPair(t *testing.T) {
	a := leaseKey(LockGlobal, "orders", "kafka")
	b := leaseKey(LockGlobal, "payments", "webhook")
	assert.Equal(t, a, b)
}

func TestLeaseKey_PerPairStrategyIsDistinctPerPair(t *testing.T) {
	a := leaseKey(LockPerTopicPublisher, "orders", "kafka")
	b := leaseKey(LockPerTopicPublisher, "payments", "kafka")
	assert.NotEqual(t, a, b)
}

func TestAdvisoryLockID_DeterministicPerKey(t *testing.T) {
	a := advisoryLockID("dcb-outbox-orders-kafka")
	b := advisoryLockID("dcb-outbox-orders-kafka")
	assert.Equal(t, a, b)
}

func TestAdvisoryLockID_DiffersAcrossKeys(t *testing.T) {
	a := advisoryLockID("dcb-outbox-orders-kafka")
	b := advisoryLockID("dcb-outbox-payments-kafka")
	assert.NotEqual(t, a, b)
}

func TestLeaseHolder_ReleaseNilIsSafe(t *testing.T) {
	var h *leaseHolder
	assert.NotPanics(t, func() { h.release(nil) })
}
