package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTextPostsCloudAPIPayload(t *testing.T) {
	var got textMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	p := NewCloudAPI(Config{BaseURL: srv.URL + "/", PhoneNumberID: "12345", AccessToken: "token-1"}, srv.Client())
	id, err := p.SendText(context.Background(), "+52 1 55 1234 5678", "Vota el domingo")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "5215512345678", got.To)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "Vota el domingo", got.Text.Body)
}

func TestSendTextSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
	}))
	defer srv.Close()

	p := NewCloudAPI(Config{BaseURL: srv.URL, PhoneNumberID: "1", AccessToken: "t"}, srv.Client())
	_, err := p.SendText(context.Background(), "5215500000000", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed list")

	_, err = p.SendText(context.Background(), "n/a", "hola")
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestNewFromConfigWithoutCredentials(t *testing.T) {
	p := NewFromConfig(config.Config{})
	_, err := p.SendText(context.Background(), "5215500000000", "hola")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
