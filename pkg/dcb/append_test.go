package dcb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Append", func() {
	BeforeEach(func() {
		Expect(truncateEventsTable(ctx, pool)).To(Succeed())
	})

	It("is a no-op for an empty batch, touching no rows", func() {
		appended, err := store.Append(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(appended).To(BeEmpty())

		all, err := store.Query(ctx, NewQueryAll(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(BeEmpty())
	})

	It("stores and round-trips a tag with an empty value", func() {
		event := NewInputEvent("AccountOpened", []Tag{NewTag("account_id", "")}, ToJSON(map[string]string{"owner": "alice"}))
		_, err := store.Append(ctx, []InputEvent{event})
		Expect(err).NotTo(HaveOccurred())

		results, err := store.Query(ctx, NewQuery([]Tag{NewTag("account_id", "")}, "AccountOpened"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Tags[0].GetValue()).To(Equal(""))
	})

	It("shares one transaction_id across a batch", func() {
		events := []InputEvent{
			NewInputEvent("Deposited", NewTags("account_id", "acc-1"), ToJSON(map[string]int{"amount": 10})),
			NewInputEvent("Deposited", NewTags("account_id", "acc-1"), ToJSON(map[string]int{"amount": 20})),
		}
		appended, err := store.Append(ctx, events)
		Expect(err).NotTo(HaveOccurred())
		Expect(appended).To(HaveLen(2))
		Expect(appended[0].TransactionID).To(Equal(appended[1].TransactionID))
		Expect(appended[1].Position).To(BeNumerically(">", appended[0].Position))
	})

	It("rejects an event with an empty tag key", func() {
		event := NewInputEvent("Bad", []Tag{NewTag("", "x")}, ToJSON(map[string]int{}))
		_, err := store.Append(ctx, []InputEvent{event})
		Expect(err).To(HaveOccurred())
		Expect(IsValidationError(err)).To(BeTrue())
	})

	Describe("AppendIf", func() {
		It("succeeds when the stateChanged query finds nothing after the cursor", func() {
			accountTags := NewTags("account_id", "acc-2")
			_, err := store.Append(ctx, []InputEvent{
				NewInputEvent("AccountOpened", accountTags, ToJSON(map[string]string{})),
			})
			Expect(err).NotTo(HaveOccurred())

			all, err := store.Query(ctx, NewQuery(accountTags, "AccountOpened"), nil)
			Expect(err).NotTo(HaveOccurred())
			cursor := &Cursor{Position: all[len(all)-1].Position, TransactionID: all[len(all)-1].TransactionID, OccurredAt: all[len(all)-1].OccurredAt}

			condition := NewAppendConditionAfterCursor(NewQuery(accountTags, "AccountClosed"), nil, cursor)
			_, err = store.AppendIf(ctx, []InputEvent{
				NewInputEvent("Deposited", accountTags, ToJSON(map[string]int{"amount": 5})),
			}, condition)
			Expect(err).NotTo(HaveOccurred())
		})

		It("fails with ConcurrencyStale when a matching event was appended after the cursor", func() {
			accountTags := NewTags("account_id", "acc-3")
			_, err := store.Append(ctx, []InputEvent{
				NewInputEvent("AccountOpened", accountTags, ToJSON(map[string]string{})),
			})
			Expect(err).NotTo(HaveOccurred())

			zeroCursor := &Cursor{}
			_, err = store.Append(ctx, []InputEvent{
				NewInputEvent("AccountClosed", accountTags, ToJSON(map[string]string{})),
			})
			Expect(err).NotTo(HaveOccurred())

			condition := NewAppendConditionAfterCursor(NewQuery(accountTags, "AccountClosed"), nil, zeroCursor)
			_, err = store.AppendIf(ctx, []InputEvent{
				NewInputEvent("Deposited", accountTags, ToJSON(map[string]int{"amount": 5})),
			}, condition)
			Expect(err).To(HaveOccurred())

			concErr, ok := GetConcurrencyError(err)
			Expect(ok).To(BeTrue())
			Expect(concErr.Kind).To(Equal(ConcurrencyStale))
		})

		It("reports ConcurrencyDuplicate when the alreadyExists query matches", func() {
			idTags := NewTags("idempotency_key", "req-1")
			_, err := store.Append(ctx, []InputEvent{
				NewInputEvent("PaymentRequested", idTags, ToJSON(map[string]string{})),
			})
			Expect(err).NotTo(HaveOccurred())

			condition := FailIfEventType("PaymentRequested", "idempotency_key", "req-1")
			_, err = store.AppendIf(ctx, []InputEvent{
				NewInputEvent("PaymentRequested", idTags, ToJSON(map[string]string{})),
			}, condition)
			Expect(err).To(HaveOccurred())

			concErr, ok := GetConcurrencyError(err)
			Expect(ok).To(BeTrue())
			Expect(concErr.Kind).To(Equal(ConcurrencyDuplicate))
			Expect(IsDuplicateConcurrencyError(err)).To(BeTrue())
		})
	})
})
