package observability

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"randhub/core/events"
	"randhub/core/types"
	"randhub/native/vrfhub"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

var _ events.Emitter = Hub()

func TestHubMetricsCountsEvents(t *testing.T) {
	m := Hub()
	before := testutil.ToFloat64(m.pending.WithLabelValues(vrfhub.PendingInsufficientFunds))

	m.Emit(testEvent{evt: &types.Event{
		Type:       vrfhub.EventTypeResponsePending,
		Attributes: map[string]string{"reason": vrfhub.PendingInsufficientFunds},
	}})

	after := testutil.ToFloat64(m.pending.WithLabelValues(vrfhub.PendingInsufficientFunds))
	if after-before != 1 {
		t.Fatalf("expected pending counter to increase by 1, got %v", after-before)
	}
}

func TestHubMetricsGauges(t *testing.T) {
	m := Hub()
	m.RecordSolvency(big.NewInt(1_050), 2)
	m.RecordAggregate(big.NewInt(150), 3)

	if got := testutil.ToFloat64(m.balance); got != 1_050 {
		t.Fatalf("balance gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 2 {
		t.Fatalf("queue depth gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.priceSources); got != 3 {
		t.Fatalf("price sources gauge = %v", got)
	}
}
