package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryBuilder_CombinesItemsWithOR(t *testing.T) {
	q := NewQueryBuilder().
		WithTagAndType("account_id", "acc-1", "Deposited").
		AddItem().
		WithTagAndType("account_id", "acc-1", "Withdrawn").
		Build()

	require.Len(t, q.GetItems(), 2)
	assert.Equal(t, []string{"Deposited"}, q.GetItems()[0].GetEventTypes())
	assert.Equal(t, []string{"Withdrawn"}, q.GetItems()[1].GetEventTypes())
}

func TestQueryBuilder_EmptyBuildsEmptyQuery(t *testing.T) {
	q := NewQueryBuilder().Build()
	assert.Empty(t, q.GetItems())
}

func TestNewQueryAll_MatchesEverythingShape(t *testing.T) {
	q := NewQueryAll()
	require.Len(t, q.GetItems(), 1)
	assert.Empty(t, q.GetItems()[0].GetEventTypes())
	assert.Empty(t, q.GetItems()[0].GetTags())
}

func TestNewTags_OddArgsReturnsEmpty(t *testing.T) {
	assert.Empty(t, NewTags("key"))
}

func TestNewAppendCondition_NilQueriesMeanUnconditional(t *testing.T) {
	ac := NewAppendCondition(nil, nil)
	assert.Nil(t, ac.getStateChanged())
	assert.Nil(t, ac.getAlreadyExists())
	assert.Nil(t, ac.getAfterCursor())
}

func TestNewAppendConditionAfterCursor_SetsCursor(t *testing.T) {
	cursor := &Cursor{Position: 42}
	ac := NewAppendConditionAfterCursor(NewQueryAll(), nil, cursor)
	require.NotNil(t, ac.getAfterCursor())
	assert.Equal(t, int64(42), ac.getAfterCursor().Position)
}

func TestFailIfExists_BuildsAlreadyExistsOnlyCondition(t *testing.T) {
	ac := FailIfExists("order_id", "ord-1")
	assert.Nil(t, ac.getStateChanged())
	require.NotNil(t, ac.getAlreadyExists())
	require.Len(t, ac.getAlreadyExists().GetItems(), 1)
	assert.Equal(t, "order_id", ac.getAlreadyExists().GetItems()[0].GetTags()[0].GetKey())
}

func TestEventBuilder_BuildsInputEvent(t *testing.T) {
	event := NewEvent("OrderPlaced").
		WithTag("order_id", "ord-1").
		WithData(map[string]int{"total": 100}).
		Build()

	assert.Equal(t, "OrderPlaced", event.GetType())
	require.Len(t, event.GetTags(), 1)
	assert.Equal(t, "order_id", event.GetTags()[0].GetKey())
	assert.JSONEq(t, `{"total":100}`, string(event.GetData()))
}

func TestBatchBuilder_CollectsEvents(t *testing.T) {
	batch := NewBatch().
		AddEvent(NewInputEvent("A", nil, []byte("{}"))).
		AddEventFromBuilder(NewEvent("B").WithTag("k", "v")).
		Build()

	require.Len(t, batch, 2)
	assert.Equal(t, "A", batch[0].GetType())
	assert.Equal(t, "B", batch[1].GetType())
}

func TestTags_ToTags(t *testing.T) {
	tags := Tags{"a": "1"}.ToTags()
	require.Len(t, tags, 1)
	assert.Equal(t, "a", tags[0].GetKey())
	assert.Equal(t, "1", tags[0].GetValue())
}
