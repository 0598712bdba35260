package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagsToArray_SortsAndFormats(t *testing.T) {
	tags := []Tag{NewTag("b", "2"), NewTag("a", "1")}
	arr := TagsToArray(tags)
	assert.Equal(t, []string{"a=1", "b=2"}, arr)
}

func TestTagsToArray_Empty(t *testing.T) {
	assert.Equal(t, []string{}, TagsToArray(nil))
}

func TestParseTagsArray_RoundTrip(t *testing.T) {
	original := []Tag{NewTag("account_id", "acc-1"), NewTag("currency", "USD")}
	arr := TagsToArray(original)
	parsed := ParseTagsArray(arr)

	assert.Len(t, parsed, 2)
	byKey := map[string]string{}
	for _, tg := range parsed {
		byKey[tg.GetKey()] = tg.GetValue()
	}
	assert.Equal(t, "acc-1", byKey["account_id"])
	assert.Equal(t, "USD", byKey["currency"])
}

func TestParseTagsArray_PreservesEmptyValue(t *testing.T) {
	arr := TagsToArray([]Tag{NewTag("note", "")})
	parsed := ParseTagsArray(arr)
	assert.Len(t, parsed, 1)
	assert.Equal(t, "note", parsed[0].GetKey())
	assert.Equal(t, "", parsed[0].GetValue())
}

func TestParseTagsArray_ValueContainingEqualsSign(t *testing.T) {
	// SplitN(..., "=", 2) must keep the rest of the value intact.
	parsed := ParseTagsArray([]string{"expr=a=b=c"})
	assert.Len(t, parsed, 1)
	assert.Equal(t, "expr", parsed[0].GetKey())
	assert.Equal(t, "a=b=c", parsed[0].GetValue())
}

func TestParseTagsArray_SkipsEmptyEntries(t *testing.T) {
	parsed := ParseTagsArray([]string{"", "key=value"})
	assert.Len(t, parsed, 1)
	assert.Equal(t, "key", parsed[0].GetKey())
}
