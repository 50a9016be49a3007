package services

import (
	"testing"
	"time"

	"points-reward-system/models"

	"github.com/google/uuid"
)

func TestRelay_DeliversToSubscribers(t *testing.T) {
	relay := NewRelay()
	ch := relay.Subscribe("acct-1")
	defer relay.Unsubscribe("acct-1", ch)

	relay.Publish(BalanceEvent{AccountID: "acct-1", Balance: 42, Kind: models.EntryTaskReward})

	select {
	case ev := <-ch:
		if ev.Balance != 42 || ev.Kind != models.EntryTaskReward {
			t.Errorf("event = %+v, want balance 42 task_reward", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRelay_ScopedToAccount(t *testing.T) {
	relay := NewRelay()
	mine := relay.Subscribe("acct-1")
	other := relay.Subscribe("acct-2")
	defer relay.Unsubscribe("acct-1", mine)
	defer relay.Unsubscribe("acct-2", other)

	relay.Publish(BalanceEvent{AccountID: "acct-1", Balance: 7})

	select {
	case <-other:
		t.Fatal("event leaked to another account's subscription")
	default:
	}
	select {
	case <-mine:
	case <-time.After(time.Second):
		t.Fatal("no event delivered to own subscription")
	}
}

// A subscriber that stops draining loses events instead of blocking the
// publisher.
func TestRelay_SlowSubscriberNeverBlocks(t *testing.T) {
	relay := NewRelay()
	ch := relay.Subscribe("acct-1")
	defer relay.Unsubscribe("acct-1", ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			relay.Publish(BalanceEvent{AccountID: "acct-1", Balance: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestRelay_PublishedAfterCommit(t *testing.T) {
	db := openTestDB(t)
	relay := NewRelay()
	ledger := NewLedgerService(db, relay)

	acct, err := ledger.EnsureAccount("ext-1", "alice")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	ch := relay.Subscribe(acct.ID)
	defer relay.Unsubscribe(acct.ID, ch)

	if _, err := ledger.Apply(acct.ID, 25, models.EntryAdminAdd, uuid.NewString(), nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Balance != acct.Balance+25 {
			t.Errorf("event balance = %d, want %d", ev.Balance, acct.Balance+25)
		}
		// The pushed balance must already be committed.
		if bal, _ := ledger.Balance(acct.ID); bal != ev.Balance {
			t.Errorf("committed balance %d != pushed %d", bal, ev.Balance)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after committed mutation")
	}

	// A rejected operation publishes nothing.
	_, _ = ledger.Apply(acct.ID, -100000, models.EntryRedeem, uuid.NewString(), nil)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after rejected operation: %+v", ev)
	default:
	}
}
