package dcb

import (
	"fmt"
)

// validateQueryTags validates the query tags and returns a ValidationError if invalid
func validateQueryTags(query Query) error {
	// Handle empty query (matches all events)
	if len(query.GetItems()) == 0 {
		return nil
	}

	// Validate each query item
	for itemIndex, item := range query.GetItems() {
		// Validate individual tags if present
		for i, t := range item.GetTags() {
			if t.GetKey() == "" {
				return &ValidationError{
					EventStoreError: EventStoreError{
						Op:  "validateQueryTags",
						Err: fmt.Errorf("empty tag key in item %d", itemIndex),
					},
					Field: fmt.Sprintf("item[%d].tag[%d].key", itemIndex, i),
				}
			}
		}

		// Validate event types if present
		for i, eventType := range item.GetEventTypes() {
			if eventType == "" {
				return &ValidationError{
					EventStoreError: EventStoreError{
						Op:  "validateQueryTags",
						Err: fmt.Errorf("empty event type at index %d of item %d", i, itemIndex),
					},
					Field: fmt.Sprintf("item[%d].eventTypes[%d]", itemIndex, i),
					Value: fmt.Sprintf("index[%d]", i),
				}
			}
		}
	}

	return nil
}

// validateEvent validates a single event and returns a ValidationError if invalid
func validateEvent(e InputEvent, index int) error {
	// Early validation checks with early returns
	if e.GetType() == "" {
		return &ValidationError{
			EventStoreError: EventStoreError{
				Op:  "validateEvent",
				Err: fmt.Errorf("empty type in event %d", index),
			},
			Field: "type",
			Value: fmt.Sprintf("event[%d]", index),
		}
	}

	// A tag's value may be empty — only the key is required (spec §4.1): an
	// event carrying no tags at all is also valid, since tags are how a
	// command's consistency boundary selects events, not a structural
	// requirement of the event itself.
	for j, t := range e.GetTags() {
		if t.GetKey() == "" {
			return &ValidationError{
				EventStoreError: EventStoreError{
					Op:  "validateEvent",
					Err: fmt.Errorf("empty tag key in event %d", index),
				},
				Field: fmt.Sprintf("event[%d].tag[%d].key", index, j),
			}
		}
	}

	// Only the presence of a payload is checked here; its content is not
	// inspected. The events.data column is of type json, so a payload that is
	// not valid JSON is rejected by the database when it is appended.
	if e.GetData() == nil {
		return &ValidationError{
			EventStoreError: EventStoreError{
				Op:  "validateEvent",
				Err: fmt.Errorf("nil payload in event %d", index),
			},
			Field: "data",
			Value: fmt.Sprintf("event[%d]", index),
		}
	}

	return nil
}

// validateBatchSize validates that the batch size is within limits
func (es *eventStore) validateBatchSize(events []InputEvent, operation string) error {
	if len(events) > es.config.MaxBatchSize {
		return &ValidationError{
			EventStoreError: EventStoreError{
				Op:  operation,
				Err: fmt.Errorf("batch size %d exceeds maximum %d", len(events), es.config.MaxBatchSize),
			},
			Field: "batchSize",
			Value: fmt.Sprintf("%d", len(events)),
		}
	}
	return nil
}
