package outbox

import "go.jetify.com/typeid"

// defaultInstanceID generates a stable-looking identifier for this process
// when OutboxConfig.InstanceID is left blank, so the processor's
// configuration always names a concrete process instead of an empty string.
// The processor does not write this identifier to the leader_instance column
// of outbox_topic_progress. Uses the same typeid prefix convention the store's event
// identifiers once used, repurposed here since outbox rows (not events) are
// now the thing that needs a generated identity.
func defaultInstanceID() string {
	tid, err := typeid.WithPrefix("outbox")
	if err != nil {
		return "outbox-unknown"
	}
	return tid.String()
}
