package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvisionFromCheckoutPostsAccountPayload(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer provision-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tenant_id": 42, "user_id": "user-1"}`))
	}))
	defer server.Close()

	p := NewAccountProvisioner(server.URL, "provision-token")
	err := p.ProvisionFromCheckout(context.Background(),
		"new@example.com", "New Customer", "cus_1", "sub_1", "price_starter_monthly")
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		"customer_email":         "new@example.com",
		"customer_name":          "New Customer",
		"stripe_customer_id":     "cus_1",
		"stripe_subscription_id": "sub_1",
		"stripe_price_id":        "price_starter_monthly",
	}, got)
}

func TestProvisionFromCheckoutNon2xxIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tenant already exists", http.StatusConflict)
	}))
	defer server.Close()

	p := NewAccountProvisioner(server.URL, "")
	err := p.ProvisionFromCheckout(context.Background(), "a@b.c", "", "cus_1", "sub_1", "price_1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
}

func TestProvisionFromCheckoutNetworkErrorIsFatal(t *testing.T) {
	p := NewAccountProvisioner("http://127.0.0.1:1", "")
	err := p.ProvisionFromCheckout(context.Background(), "a@b.c", "", "cus_1", "sub_1", "price_1")
	require.Error(t, err)
}
