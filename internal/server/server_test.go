package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/internal/gateway"
	"github.com/Jedidiah5/past-time/internal/journal"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

type stubGateway struct {
	created   capsule.Capsule
	createErr error
	list      []capsule.Capsule
	removeErr error
	removedID string
}

func (s *stubGateway) Create(_ context.Context, p gateway.CreateParams) (capsule.Capsule, error) {
	if s.createErr != nil {
		return capsule.Capsule{}, s.createErr
	}
	return s.created, nil
}

func (s *stubGateway) List(context.Context) ([]capsule.Capsule, error) { return s.list, nil }

func (s *stubGateway) Remove(_ context.Context, id string) error {
	s.removedID = id
	return s.removeErr
}

type stubDeliveries struct {
	attempts []journal.Attempt
}

func (s *stubDeliveries) Recent(_ context.Context, _ int) ([]journal.Attempt, error) {
	return s.attempts, nil
}

func newTestServer(gw Gateway) *httptest.Server {
	e := New(gw, &stubDeliveries{}, logx.Nop())
	return httptest.NewServer(e)
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(&stubGateway{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf [128]byte
	n, _ := resp.Body.Read(buf[:])
	assert.Contains(t, string(buf[:n]), "running")
}

func TestCreateCapsule(t *testing.T) {
	want := capsule.Capsule{ID: "c1", Recipient: "you@example.com", Title: "t"}
	gw := &stubGateway{created: want}
	srv := newTestServer(gw)
	defer srv.Close()

	body := `{"recipient":"you@example.com","title":"t","body":"b","unlock_at":"2030-01-01T00:00:00Z"}`
	resp, err := http.Post(srv.URL+"/api/capsules", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var got capsule.Capsule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "c1", got.ID)
}

func TestCreateValidationMapsTo422(t *testing.T) {
	gw := &stubGateway{createErr: capsule.Errorf(capsule.KindValidation, "gateway.Create", "unlock time must be in the future")}
	srv := newTestServer(gw)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/capsules", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListCapsules(t *testing.T) {
	gw := &stubGateway{list: []capsule.Capsule{{ID: "c1"}, {ID: "c2"}}}
	srv := newTestServer(gw)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/capsules")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var got []capsule.Capsule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestRemoveCapsule(t *testing.T) {
	deleteReq := func(t *testing.T, url string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("unsent capsule removed", func(t *testing.T) {
		gw := &stubGateway{}
		srv := newTestServer(gw)
		defer srv.Close()

		resp := deleteReq(t, srv.URL+"/api/capsules/c1")
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "c1", gw.removedID)
	})

	t.Run("already delivered maps to 409", func(t *testing.T) {
		gw := &stubGateway{removeErr: capsule.Errorf(capsule.KindConflict, "store.DeleteIfUnsent", "already delivered")}
		srv := newTestServer(gw)
		defer srv.Close()

		resp := deleteReq(t, srv.URL+"/api/capsules/c1")
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("missing maps to 404", func(t *testing.T) {
		gw := &stubGateway{removeErr: capsule.Errorf(capsule.KindNotFound, "store.DeleteIfUnsent", "gone")}
		srv := newTestServer(gw)
		defer srv.Close()

		resp := deleteReq(t, srv.URL+"/api/capsules/c1")
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("store outage maps to 502", func(t *testing.T) {
		gw := &stubGateway{removeErr: capsule.Errorf(capsule.KindStoreUnavailable, "store.DeleteIfUnsent", "timeout")}
		srv := newTestServer(gw)
		defer srv.Close()

		resp := deleteReq(t, srv.URL+"/api/capsules/c1")
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestListDeliveries(t *testing.T) {
	e := New(&stubGateway{}, &stubDeliveries{attempts: []journal.Attempt{
		{CapsuleID: "c1", Outcome: journal.OutcomeSent, At: time.Now()},
	}}, logx.Nop())
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/deliveries?limit=5")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var got []journal.Attempt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].CapsuleID)
}
