package vrfhub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFulfillIsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	id, err := h.hub.RequestRandomLocal(context.Background(), plainCaller)
	require.NoError(t, err)

	_, err = h.hub.Fulfill(context.Background(), id, []common.Hash{word(1), word(2)})
	require.NoError(t, err)

	_, err = h.hub.Fulfill(context.Background(), id, []common.Hash{word(3)})
	if !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	req, err := h.hub.Request(id)
	require.NoError(t, err)
	require.Equal(t, word(1), req.RandomValue)
	require.Len(t, h.events.OfType(EventTypeFulfilled), 1)
}

func TestFulfillRejectsUnknownAndEmpty(t *testing.T) {
	h := newHarness(t)
	_, err := h.hub.Fulfill(context.Background(), common.HexToHash("0xdead"), []common.Hash{word(1)})
	require.ErrorIs(t, err, ErrRequestNotFound)

	id, err := h.hub.RequestRandomLocal(context.Background(), plainCaller)
	require.NoError(t, err)
	_, err = h.hub.Fulfill(context.Background(), id, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)

	req, err := h.hub.Request(id)
	require.NoError(t, err)
	require.False(t, req.Fulfilled)
}

func TestFulfillPlainAccountPolls(t *testing.T) {
	called := false
	h := newHarness(t, WithNotifier(notifierFunc(func(context.Context, AuthorizedCaller, Notification) error {
		called = true
		return nil
	})))
	id, err := h.hub.RequestRandomLocal(context.Background(), plainCaller)
	require.NoError(t, err)

	out, err := h.hub.Fulfill(context.Background(), id, []common.Hash{word(7)})
	require.NoError(t, err)
	require.True(t, out.Local)
	require.False(t, out.Callback.Attempted)
	require.False(t, called)

	status, err := h.hub.LocalRequest(id)
	require.NoError(t, err)
	require.True(t, status.Fulfilled)
	require.False(t, status.CallbackSent)
	require.NotNil(t, status.RandomValue)
	require.Equal(t, word(7), *status.RandomValue)
}

func TestFulfillNotifiesCallableCaller(t *testing.T) {
	var got Notification
	h := newHarness(t, WithNotifier(notifierFunc(func(_ context.Context, caller AuthorizedCaller, n Notification) error {
		if caller.Address != callableCaller {
			t.Errorf("unexpected caller %s", caller.Address.Hex())
		}
		got = n
		return nil
	})))
	id, err := h.hub.RequestRandomLocal(context.Background(), callableCaller)
	require.NoError(t, err)

	out, err := h.hub.Fulfill(context.Background(), id, []common.Hash{word(9)})
	require.NoError(t, err)
	require.True(t, out.Callback.Delivered)
	require.Equal(t, Notification{RequestID: id, RandomValue: word(9)}, got)

	status, err := h.hub.LocalRequest(id)
	require.NoError(t, err)
	require.True(t, status.CallbackSent)
	require.Len(t, h.events.OfType(EventTypeCallbackSent), 1)
}

func TestFulfillSurvivesCallbackFailures(t *testing.T) {
	cases := map[string]Notifier{
		"error": notifierFunc(func(context.Context, AuthorizedCaller, Notification) error { return errBoom }),
		"panic": notifierFunc(func(context.Context, AuthorizedCaller, Notification) error { panic("out of gas") }),
		"timeout": notifierFunc(func(ctx context.Context, _ AuthorizedCaller, _ Notification) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}
	for name, notifier := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, WithNotifier(notifier))
			id, err := h.hub.RequestRandomLocal(context.Background(), callableCaller)
			require.NoError(t, err)

			out, err := h.hub.Fulfill(context.Background(), id, []common.Hash{word(4)})
			require.NoError(t, err)
			require.True(t, out.Callback.Attempted)
			require.False(t, out.Callback.Delivered)
			require.NotEmpty(t, out.Callback.Reason)

			status, err := h.hub.LocalRequest(id)
			require.NoError(t, err)
			require.True(t, status.Fulfilled)
			require.False(t, status.CallbackSent)
			failed := h.events.OfType(EventTypeCallbackFailed)
			require.Len(t, failed, 1)
			if name == "panic" && !strings.Contains(failed[0].Attr("reason"), "out of gas") {
				t.Fatalf("panic reason not recorded: %q", failed[0].Attr("reason"))
			}
		})
	}
}

func TestCallbackRunsWithoutHubLock(t *testing.T) {
	var h *harness
	h = newHarness(t, WithNotifier(notifierFunc(func(context.Context, AuthorizedCaller, Notification) error {
		// Re-entering the hub deadlocks if the lock is held during delivery.
		_, err := h.hub.Stats()
		return err
	})))
	id, err := h.hub.RequestRandomLocal(context.Background(), callableCaller)
	require.NoError(t, err)

	out, err := h.hub.Fulfill(context.Background(), id, []common.Hash{word(5)})
	require.NoError(t, err)
	require.True(t, out.Callback.Delivered)
}

func TestFulfillAfterRevokeStillRecords(t *testing.T) {
	h := newHarness(t, WithNotifier(notifierFunc(func(context.Context, AuthorizedCaller, Notification) error {
		t.Fatalf("revoked caller must not be notified")
		return nil
	})))
	id, err := h.hub.RequestRandomLocal(context.Background(), callableCaller)
	require.NoError(t, err)
	require.NoError(t, h.hub.RevokeCaller(callableCaller))

	out, err := h.hub.Fulfill(context.Background(), id, []common.Hash{word(6)})
	require.NoError(t, err)
	require.False(t, out.Callback.Attempted)
	status, err := h.hub.LocalRequest(id)
	require.NoError(t, err)
	require.True(t, status.Fulfilled)
}
