package rule

import (
	"testing"
	"time"

	"github.com/gatekeeper/gatekeeper/internal/aggregate"
	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/stretchr/testify/require"
)

func countAgg(t *testing.T, name, eventName string) *aggregate.Aggregate {
	t.Helper()
	a, err := aggregate.New(aggregate.Config{Name: name, EventName: eventName, Type: aggregate.Count})
	require.NoError(t, err)
	return a
}

func TestValueRuleAbides(t *testing.T) {
	total := countAgg(t, "total_scam_flags", "scam_flag")
	r, err := New(Config{
		Name: "cannot_scam_message", Operation: Value, Aggregate1: "total_scam_flags",
		Value: 2, Condition: LessThan,
	}, total, nil)
	require.NoError(t, err)

	require.True(t, r.Abides("user_A"), "0 < 2 abides")
}

func TestDivideZeroDenominatorYieldsZero(t *testing.T) {
	num := countAgg(t, "credit_card_distinct_zips", "add_credit_card")
	denom := countAgg(t, "total_credit_cards", "add_credit_card")
	r, err := New(Config{
		Name: "ratio", Operation: Divide, Aggregate1: "credit_card_distinct_zips", Aggregate2: "total_credit_cards",
		Value: 0.25, Condition: LessThan,
	}, num, denom)
	require.NoError(t, err)

	v, override := r.Evaluate("user_X")
	require.False(t, override)
	require.Equal(t, float64(0), v)
	require.True(t, r.Abides("user_X"), "0 < 0.25 abides per S6")
}

func TestDivideDenomMinOverride(t *testing.T) {
	num := countAgg(t, "credit_card_distinct_zips", "add_credit_card")
	denom := countAgg(t, "total_credit_cards", "add_credit_card")
	min := 3.0
	r, err := New(Config{
		Name: "ratio", Operation: Divide, Aggregate1: "credit_card_distinct_zips", Aggregate2: "total_credit_cards",
		Value: 0.25, Condition: LessThan, DenomMin: &min,
	}, num, denom)
	require.NoError(t, err)

	// denom == 2 events delivered below, less than denom_min 3.
	require.NoError(t, num.Update("user_B", mkCountEvent("u1")))
	require.NoError(t, denom.Update("user_B", mkCountEvent("u1")))
	require.NoError(t, num.Update("user_B", mkCountEvent("u2")))
	require.NoError(t, denom.Update("user_B", mkCountEvent("u2")))

	require.True(t, r.Abides("user_B"), "denom below denom_min forces override regardless of ratio")
}

func TestDivideRatioFires(t *testing.T) {
	num := countAgg(t, "credit_card_distinct_zips", "add_credit_card")
	denom := countAgg(t, "total_credit_cards", "add_credit_card")
	min := 3.0
	r, err := New(Config{
		Name: "ratio", Operation: Divide, Aggregate1: "credit_card_distinct_zips", Aggregate2: "total_credit_cards",
		Value: 0.25, Condition: LessThan, DenomMin: &min,
	}, num, denom)
	require.NoError(t, err)

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, num.Update("user_B", mkCountEvent(u)))
		require.NoError(t, denom.Update("user_B", mkCountEvent(u)))
	}

	require.False(t, r.Abides("user_B"), "ratio 1.0 >= 0.25 fails the LESS_THAN condition")
}

func TestGreaterThanCondition(t *testing.T) {
	total := countAgg(t, "total_purchases", "purchase")
	r, err := New(Config{
		Name: "enough_purchases", Operation: Value, Aggregate1: "total_purchases",
		Value: 0, Condition: GreaterThan,
	}, total, nil)
	require.NoError(t, err)

	require.False(t, r.Abides("user_A"), "0 is not greater than 0")
	require.NoError(t, total.Update("user_A", mkCountEvent("u1")))
	require.True(t, r.Abides("user_A"))
}

func TestConfigValidationErrors(t *testing.T) {
	_, err := New(Config{Name: "x", Operation: Divide, Aggregate1: "a", Condition: LessThan}, countAgg(t, "a", "e"), nil)
	require.Error(t, err, "DIVIDE requires aggregate2")

	min := 1.0
	_, err = New(Config{Name: "x", Operation: Value, Aggregate1: "a", Condition: LessThan, DenomMin: &min}, countAgg(t, "a", "e"), nil)
	require.Error(t, err, "denom_min is valid only with DIVIDE")
}

func mkCountEvent(uuid string) *event.Event {
	return &event.Event{UUID: uuid, Name: "test", Timestamp: time.Now(), Properties: event.Properties{UserID: "user_B"}}
}
