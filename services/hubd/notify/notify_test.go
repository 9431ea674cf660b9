package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"randhub/core/types"
	"randhub/native/vrfhub"
)

func TestCallbacksSignAndDeliver(t *testing.T) {
	secret := []byte("shared-secret")
	var got CallbackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !Verify(secret, body, r.Header.Get(HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get(HeaderEvent) != EventFulfilled || r.Header.Get(HeaderDeliveryID) == "" {
			t.Errorf("unexpected headers: %v", r.Header)
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cb, err := NewCallbacks(secret)
	require.NoError(t, err)
	caller := vrfhub.AuthorizedCaller{Address: common.HexToAddress("0x01"), CallbackURL: srv.URL}
	n := vrfhub.Notification{RequestID: common.HexToHash("0xabc"), RandomValue: common.HexToHash("0xfeed")}

	require.NoError(t, cb.Notify(context.Background(), caller, n))
	require.Equal(t, n.RequestID.Hex(), got.RequestID)
	require.Equal(t, n.RandomValue.Hex(), got.RandomValue)
}

func TestCallbacksRetryThenFail(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb, err := NewCallbacks([]byte("s"), WithCallbackRetry(3, time.Millisecond))
	require.NoError(t, err)
	err = cb.Notify(context.Background(), vrfhub.AuthorizedCaller{Address: common.HexToAddress("0x02"), CallbackURL: srv.URL}, vrfhub.Notification{})
	require.Error(t, err)
	require.Equal(t, int32(3), hits.Load())

	err = cb.Notify(context.Background(), vrfhub.AuthorizedCaller{Address: common.HexToAddress("0x02")}, vrfhub.Notification{})
	require.Error(t, err)
}

type rawEvent struct{ evt *types.Event }

func (e rawEvent) EventType() string   { return e.evt.Type }
func (e rawEvent) Event() *types.Event { return e.evt }

func TestAlertsForwardSelectedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []AlertPayload
	)
	delivered := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		delivered <- struct{}{}
	}))
	defer srv.Close()

	alerts, err := NewAlerts(srv.URL, []byte("s"), WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	defer alerts.Close()

	alerts.Emit(rawEvent{evt: &types.Event{Type: vrfhub.EventTypeRequested}})
	alerts.Emit(rawEvent{evt: &types.Event{Type: vrfhub.EventTypeResponsePending, Attributes: map[string]string{"reason": "insufficient_funds"}}})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("alert not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, vrfhub.EventTypeResponsePending, received[0].Type)
	require.Equal(t, "insufficient_funds", received[0].Attributes["reason"])
}

func TestNewAlertsValidates(t *testing.T) {
	_, err := NewAlerts("", []byte("s"))
	require.Error(t, err)
	_, err = NewAlerts("http://localhost", nil)
	require.Error(t, err)
}

func TestCallbackDeliveryIDHeaderMatchesBodyAcrossRetries(t *testing.T) {
	var (
		hits    atomic.Int32
		headers []string
		bodies  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload CallbackPayload
		_ = json.Unmarshal(body, &payload)
		headers = append(headers, r.Header.Get(HeaderDeliveryID))
		bodies = append(bodies, payload.DeliveryID)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cb, err := NewCallbacks([]byte("s"), WithCallbackRetry(3, time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, cb.Notify(context.Background(), vrfhub.AuthorizedCaller{Address: common.HexToAddress("0x03"), CallbackURL: srv.URL}, vrfhub.Notification{}))

	require.Len(t, headers, 2)
	require.NotEmpty(t, headers[0])
	require.Equal(t, headers, bodies)
	require.Equal(t, headers[0], headers[1])
}
