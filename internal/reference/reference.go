// Package reference defines the idempotency key correlating a local charge
// intent with a gateway-side transaction. The key is structured internally;
// the underscore-delimited string exists only at the wire boundary.
package reference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const recurringMarker = "_recurring_"

var (
	ErrMalformed    = errors.New("malformed_reference")
	ErrNotRecurring = errors.New("not_a_recurring_reference")
)

// ChargeReference identifies one recurring charge intent.
type ChargeReference struct {
	App          string
	PlanID       string
	SubscriberID snowflake.ID
	IssuedAt     time.Time
}

func New(app, planID string, subscriberID snowflake.ID, issuedAt time.Time) ChargeReference {
	return ChargeReference{
		App:          app,
		PlanID:       planID,
		SubscriberID: subscriberID,
		IssuedAt:     issuedAt.UTC(),
	}
}

// Encode renders the wire form: <app>_recurring_<planId>_<subscriberId>_<timestamp>.
func (r ChargeReference) Encode() string {
	return fmt.Sprintf("%s%s%s_%s_%d",
		r.App,
		recurringMarker,
		r.PlanID,
		r.SubscriberID.String(),
		r.IssuedAt.Unix(),
	)
}

// IsRecurring reports whether the wire form belongs to this engine.
func IsRecurring(wire string) bool {
	return strings.Contains(wire, recurringMarker)
}

// Parse decodes the wire form. Plan identifiers may themselves contain
// underscores, so the subscriber id and timestamp are taken from the right.
func Parse(wire string) (ChargeReference, error) {
	wire = strings.TrimSpace(wire)
	idx := strings.Index(wire, recurringMarker)
	if idx <= 0 {
		return ChargeReference{}, ErrNotRecurring
	}

	app := wire[:idx]
	rest := wire[idx+len(recurringMarker):]

	parts := strings.Split(rest, "_")
	if len(parts) < 3 {
		return ChargeReference{}, ErrMalformed
	}

	rawTimestamp := parts[len(parts)-1]
	rawSubscriber := parts[len(parts)-2]
	planID := strings.Join(parts[:len(parts)-2], "_")
	if planID == "" {
		return ChargeReference{}, ErrMalformed
	}

	subscriberID, err := snowflake.ParseString(rawSubscriber)
	if err != nil {
		return ChargeReference{}, ErrMalformed
	}

	unix, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil || unix <= 0 {
		return ChargeReference{}, ErrMalformed
	}

	return ChargeReference{
		App:          app,
		PlanID:       planID,
		SubscriberID: subscriberID,
		IssuedAt:     time.Unix(unix, 0).UTC(),
	}, nil
}
