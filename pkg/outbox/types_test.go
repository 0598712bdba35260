package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dcbhq/dcb/pkg/dcb"
)

func TestTopicConfig_RequiredTags_AllMustBePresent(t *testing.T) {
	tc := TopicConfig{RequiredTags: []string{"account_id", "currency"}}

	assert.True(t, tc.matches([]dcb.Tag{
		dcb.NewTag("account_id", "acc-1"),
		dcb.NewTag("currency", "USD"),
	}))
	assert.False(t, tc.matches([]dcb.Tag{
		dcb.NewTag("account_id", "acc-1"),
	}))
}

func TestTopicConfig_AnyOfTags_OneIsEnough(t *testing.T) {
	tc := TopicConfig{AnyOfTags: []string{"order_id", "cart_id"}}

	assert.True(t, tc.matches([]dcb.Tag{dcb.NewTag("cart_id", "c-1")}))
	assert.False(t, tc.matches([]dcb.Tag{dcb.NewTag("unrelated", "x")}))
}

func TestTopicConfig_ExactTags_ValueMustMatch(t *testing.T) {
	tc := TopicConfig{ExactTags: map[string]string{"status": "FAILED"}}

	assert.True(t, tc.matches([]dcb.Tag{dcb.NewTag("status", "FAILED")}))
	assert.False(t, tc.matches([]dcb.Tag{dcb.NewTag("status", "OK")}))
	assert.False(t, tc.matches([]dcb.Tag{}))
}

func TestTopicConfig_Unconfigured_MatchesEverything(t *testing.T) {
	tc := TopicConfig{}
	assert.True(t, tc.matches(nil))
	assert.True(t, tc.matches([]dcb.Tag{dcb.NewTag("anything", "goes")}))
}

func TestTopicConfig_CombinesAllThreeConstraints(t *testing.T) {
	tc := TopicConfig{
		RequiredTags: []string{"account_id"},
		AnyOfTags:    []string{"order_id", "cart_id"},
		ExactTags:    map[string]string{"status": "FAILED"},
	}

	assert.True(t, tc.matches([]dcb.Tag{
		dcb.NewTag("account_id", "acc-1"),
		dcb.NewTag("order_id", "o-1"),
		dcb.NewTag("status", "FAILED"),
	}))
	assert.False(t, tc.matches([]dcb.Tag{
		dcb.NewTag("account_id", "acc-1"),
		dcb.NewTag("status", "FAILED"),
	}))
}

func TestPublisherMode_String(t *testing.T) {
	assert.Equal(t, "BATCH", ModeBatch.String())
	assert.Equal(t, "INDIVIDUAL", ModeIndividual.String())
}

func TestLockStrategy_String(t *testing.T) {
	assert.Equal(t, "GLOBAL", LockGlobal.String())
	assert.Equal(t, "PER_TOPIC_PUBLISHER", LockPerTopicPublisher.String())
}
