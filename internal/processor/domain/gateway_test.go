package domain

import (
	"testing"
	"time"
)

func TestSubscriptionLive(t *testing.T) {
	cases := map[string]bool{
		StatusActive:         true,
		StatusTrialing:       true,
		"past_due":           false,
		"canceled":           false,
		"incomplete_expired": false,
	}
	for status, want := range cases {
		sub := &Subscription{Status: status}
		if got := sub.Live(); got != want {
			t.Fatalf("status %s: expected %v, got %v", status, want, got)
		}
	}

	var missing *Subscription
	if missing.Live() {
		t.Fatalf("nil subscription must not be live")
	}
}

func TestSubscriptionEnded(t *testing.T) {
	active := &Subscription{Status: StatusActive}
	if active.Ended() {
		t.Fatalf("active subscription must not be ended")
	}
	for _, status := range []string{StatusCanceled, StatusIncompleteExpired} {
		if !(&Subscription{Status: status}).Ended() {
			t.Fatalf("status %s: expected ended", status)
		}
	}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if !(&Subscription{Status: "past_due", EndedAt: &at}).Ended() {
		t.Fatalf("subscription with an end timestamp must be ended")
	}

	var missing *Subscription
	if !missing.Ended() {
		t.Fatalf("nil subscription must be ended")
	}
}
