package dcb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validation", func() {
	Describe("validateEvent", func() {
		It("accepts a well-formed event", func() {
			event := NewInputEvent("TestEvent", NewTags("key", "value"), ToJSON(map[string]string{"data": "test"}))
			Expect(validateEvent(event, 0)).NotTo(HaveOccurred())
		})

		It("rejects an empty event type", func() {
			event := NewInputEvent("", NewTags("key", "value"), ToJSON(map[string]string{"data": "test"}))
			err := validateEvent(event, 0)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty type"))
		})

		It("rejects an empty tag key", func() {
			event := NewInputEvent("TestEvent", []Tag{NewTag("", "value")}, ToJSON(map[string]string{"data": "test"}))
			err := validateEvent(event, 0)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty tag key"))
		})

		It("accepts an empty tag value", func() {
			event := NewInputEvent("TestEvent", []Tag{NewTag("key", "")}, ToJSON(map[string]string{"data": "test"}))
			Expect(validateEvent(event, 0)).NotTo(HaveOccurred())
		})

		It("accepts an event with no tags at all", func() {
			event := NewInputEvent("TestEvent", nil, ToJSON(map[string]string{"data": "test"}))
			Expect(validateEvent(event, 0)).NotTo(HaveOccurred())
		})

		It("rejects a nil payload", func() {
			event := NewInputEvent("TestEvent", NewTags("key", "value"), nil)
			err := validateEvent(event, 0)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("nil payload"))
		})

		It("accepts a non-JSON opaque payload", func() {
			event := NewInputEvent("TestEvent", NewTags("key", "value"), []byte("not json at all"))
			Expect(validateEvent(event, 0)).NotTo(HaveOccurred())
		})
	})

	Describe("validateQueryTags", func() {
		It("accepts an empty query", func() {
			Expect(validateQueryTags(NewQueryEmpty())).NotTo(HaveOccurred())
		})

		It("accepts a query item with an empty tag value", func() {
			q := NewQuery([]Tag{NewTag("key", "")}, "TestEvent")
			Expect(validateQueryTags(q)).NotTo(HaveOccurred())
		})

		It("rejects a query item with an empty tag key", func() {
			q := NewQuery([]Tag{NewTag("", "value")}, "TestEvent")
			err := validateQueryTags(q)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty tag key"))
		})

		It("rejects a query item with an empty event type", func() {
			q := NewQuery(nil, "")
			err := validateQueryTags(q)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty event type"))
		})
	})
})
