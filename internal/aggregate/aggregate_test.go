package aggregate

import (
	"testing"
	"time"

	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/stretchr/testify/require"
)

func mkEvent(uuid string, fields map[string]any) *event.Event {
	return &event.Event{
		UUID:       uuid,
		Name:       "test",
		Timestamp:  time.Now(),
		Properties: event.Properties{UserID: "user_A", Fields: fields},
	}
}

func TestCountIsIdempotentPerUUID(t *testing.T) {
	a, err := New(Config{Name: "total_scam_flags", EventName: "scam_flag", Type: Count})
	require.NoError(t, err)

	require.NoError(t, a.Update("user_A", mkEvent("uuid-1", nil)))
	require.NoError(t, a.Update("user_A", mkEvent("uuid-1", nil)))
	require.Equal(t, float64(1), a.Read("user_A"), "duplicate uuid must not change the count")

	require.NoError(t, a.Update("user_A", mkEvent("uuid-2", nil)))
	require.Equal(t, float64(2), a.Read("user_A"))
}

func TestSumIsIdempotentPerUUID(t *testing.T) {
	a, err := New(Config{Name: "total_purchase_amount", EventName: "purchase", Type: Sum, Field: "amount"})
	require.NoError(t, err)

	require.NoError(t, a.Update("user_A", mkEvent("uuid-1", map[string]any{"amount": float64(50)})))
	require.NoError(t, a.Update("user_A", mkEvent("uuid-1", map[string]any{"amount": float64(50)})))
	require.Equal(t, float64(50), a.Read("user_A"), "same uuid delivered twice must sum once")
}

func TestSumRejectsFalsyZero(t *testing.T) {
	a, err := New(Config{Name: "total_purchase_amount", EventName: "purchase", Type: Sum, Field: "amount"})
	require.NoError(t, err)

	err = a.Update("user_A", mkEvent("uuid-1", map[string]any{"amount": float64(0)}))
	require.Error(t, err, "zero amount is preserved as a documented falsy-value rejection")
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
}

func TestDistinctCountDeduplicates(t *testing.T) {
	a, err := New(Config{Name: "credit_card_distinct_zips", EventName: "add_credit_card", Type: DistinctCount, Field: "zipcode"})
	require.NoError(t, err)

	require.NoError(t, a.Update("user_B", mkEvent("uuid-1", map[string]any{"zipcode": "10001"})))
	require.NoError(t, a.Update("user_B", mkEvent("uuid-2", map[string]any{"zipcode": "20002"})))
	require.NoError(t, a.Update("user_B", mkEvent("uuid-3", map[string]any{"zipcode": "10001"})))
	require.Equal(t, float64(2), a.Read("user_B"))
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Name: "x", EventName: "e", Type: Count, Field: "f"})
	require.Error(t, err, "COUNT forbids field")

	_, err = New(Config{Name: "x", EventName: "e", Type: Sum})
	require.Error(t, err, "SUM requires field")
}

func TestUnseenUserReadsZero(t *testing.T) {
	a, err := New(Config{Name: "x", EventName: "e", Type: Count})
	require.NoError(t, err)
	require.Equal(t, float64(0), a.Read("nobody"))
}
