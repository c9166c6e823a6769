package quotehub

import "testing"

func TestTableInsertAndAssignQuoteID(t *testing.T) {
	table := NewTable()
	table.Insert(PendingQuote{ChannelID: 1, SequenceNumber: 5, Amount: 10})

	if table.Len() != 1 {
		t.Fatalf("expected 1 tracked quote, got %d", table.Len())
	}

	if !table.AssignQuoteID(1, 5, "quote-abc") {
		t.Fatalf("expected AssignQuoteID to find the interim record")
	}

	q, ok := table.Get("quote-abc")
	if !ok {
		t.Fatalf("expected quote-abc to be retrievable")
	}
	if q.Status != StatusUnpaid {
		t.Fatalf("expected status unpaid after assignment, got %v", q.Status)
	}
	if q.Amount != 10 {
		t.Fatalf("amount not preserved across assignment: got %d", q.Amount)
	}
}

func TestTableAssignQuoteIDUnknownInterim(t *testing.T) {
	table := NewTable()
	if table.AssignQuoteID(99, 1, "quote-x") {
		t.Fatalf("expected false for unknown interim key")
	}
}

func TestTableMarkPaidUnknownQuote(t *testing.T) {
	table := NewTable()
	if table.MarkPaid("nope") {
		t.Fatalf("expected false for unknown quote id")
	}
}

func TestTableTakePaidOnlyReturnsPaidAndRemovesThem(t *testing.T) {
	table := NewTable()
	table.Insert(PendingQuote{ChannelID: 1, SequenceNumber: 1})
	table.AssignQuoteID(1, 1, "paid-one")
	table.Insert(PendingQuote{ChannelID: 2, SequenceNumber: 1})
	table.AssignQuoteID(2, 1, "still-unpaid")

	table.MarkPaid("paid-one")

	paid := table.TakePaid()
	if len(paid) != 1 || paid[0].QuoteID != "paid-one" {
		t.Fatalf("expected exactly paid-one, got %+v", paid)
	}

	if _, ok := table.Get("paid-one"); ok {
		t.Fatalf("expected paid-one removed from table after TakePaid")
	}
	if _, ok := table.Get("still-unpaid"); !ok {
		t.Fatalf("expected still-unpaid to remain tracked")
	}

	if got := table.TakePaid(); len(got) != 0 {
		t.Fatalf("expected no paid quotes left, got %d", len(got))
	}
}

func TestInterimKeyDistinguishesChannelAndSequence(t *testing.T) {
	a := interimKey(1, 20)
	b := interimKey(12, 0)
	if a == b {
		t.Fatalf("expected distinct interim keys, got %q for both", a)
	}
}
