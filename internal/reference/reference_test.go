package reference

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ref := New("rebill", "basic", node.Generate(), issued)

	parsed, err := Parse(ref.Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != ref {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, ref)
	}
}

func TestParsePlanWithUnderscores(t *testing.T) {
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	ref := New("rebill", "pro_annual_v2", node.Generate(), time.Unix(1750000000, 0))
	parsed, err := Parse(ref.Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.PlanID != "pro_annual_v2" {
		t.Fatalf("expected plan pro_annual_v2, got %s", parsed.PlanID)
	}
	if parsed.SubscriberID != ref.SubscriberID {
		t.Fatalf("subscriber mismatch: got %s want %s", parsed.SubscriberID, ref.SubscriberID)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		wire string
	}{
		{"empty", ""},
		{"no marker", "rebill_payment_123"},
		{"missing app", "_recurring_basic_123_1750000000"},
		{"too few fields", "rebill_recurring_basic"},
		{"bad subscriber", "rebill_recurring_basic_abc_1750000000"},
		{"bad timestamp", "rebill_recurring_basic_123_later"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.wire); err == nil {
				t.Fatalf("expected error for %q", tc.wire)
			}
		})
	}
}

func TestIsRecurring(t *testing.T) {
	if !IsRecurring("rebill_recurring_basic_123_1750000000") {
		t.Fatal("expected recurring reference to be recognized")
	}
	if IsRecurring("rebill_link_purchase_42") {
		t.Fatal("expected one-shot reference to be rejected")
	}
}
