package rest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/sharetrack/internal/rest"
)

func TestSharedConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/shared/share-1", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("full"))
		_, _ = w.Write([]byte(`{"uuid":"share-1","order_uuid":"order-1","way_point_id":7,"eta":"2026-08-30T10:00:00Z"}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	cfg, err := client.SharedConfig(context.Background(), "share-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", cfg.OrderUUID)
	require.Equal(t, int64(7), cfg.WayPointID)
}

func TestSharedLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/shared/share-1/location", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"current_lat":35.7,"current_lng":51.4}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	msg, err := client.SharedLocation(context.Background(), "share-1")
	require.NoError(t, err)
	point := msg.Point()
	require.InDelta(t, 35.7, point.Lat, 1e-9)
	require.InDelta(t, 51.4, point.Lng, 1e-9)
}

func TestSharedLocationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	_, err := client.SharedLocation(context.Background(), "share-1")
	require.Error(t, err)
}

func TestOrderByShare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/watch/shared/share-1", r.URL.Path)
		require.Equal(t, "order-1", r.URL.Query().Get("order_uuid"))
		require.Equal(t, "token-1", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"success":true,"order_update":{"uuid":"order-1","status":2}}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	order, err := client.OrderByShare(context.Background(), "share-1", "order-1", "token-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", order.UUID)
}

func TestCreateShare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/shared/orders", r.URL.Path)
		require.Equal(t, "order-1", r.URL.Query().Get("order_uuid"))
		_, _ = w.Write([]byte(`{"success":true,"order_update":{"uuid":"order-1","share_uuid":"share-9"}}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	order, err := client.CreateShare(context.Background(), "order-1", "token-1")
	require.NoError(t, err)
	require.Equal(t, "share-9", order.ShareUUID)
}

func TestPostRelativeAndAbsolute(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	result, err := client.Post(context.Background(), "/shared/share-1/rating", map[string]any{"rating": 5})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "/shared/share-1/rating", gotPath)
	require.Equal(t, float64(5), gotBody["rating"])

	result, err = client.Post(context.Background(), srv.URL+"/absolute", map[string]any{"note": "hi"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "/absolute", gotPath)
}

func TestPostPromotesBodyTokenToBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	_, err := client.Post(context.Background(), "/shared/share-1/alerts", map[string]any{
		"alert_type": 4, "token": "alert-token",
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer alert-token", gotAuth)

	_, err = client.Post(context.Background(), "/shared/share-1/rating", map[string]any{"rating": 5})
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}

func TestPostErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	_, err := client.Post(context.Background(), "/shared/share-1/rating", nil)
	require.Error(t, err)
}

func TestUpload(t *testing.T) {
	var gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)
	err := client.Upload(context.Background(), srv.URL+"/signatures/a.jpg", []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", gotType)
	require.Equal(t, []byte{0xff, 0xd8}, gotBody)
}
