package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayStub struct {
	tokenCalls  int
	payCalls    int
	lastPayBody map[string]interface{}
	lastPayAuth string
	statusCode  string
	statusAuth  string
	statusSig   string
}

func newStubServer(t *testing.T, stub *gatewayStub) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/oauth/token":
			stub.tokenCalls++
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok-123",
				"expires_in":   3600,
			})

		case r.URL.Path == "/checkout/v2/pay":
			stub.payCalls++
			stub.lastPayAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stub.lastPayBody))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"state":       "PENDING",
				"redirectUrl": "https://pay.example.com/session/xyz",
			})

		case strings.HasPrefix(r.URL.Path, "/pg/v1/status/"):
			stub.statusAuth = r.Header.Get("Authorization")
			stub.statusSig = r.Header.Get("X-VERIFY")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"code":    stub.statusCode,
				"data":    map[string]string{"transactionId": "gw-1"},
			})

		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:       baseURL,
		MerchantID:    "MERCHANT1",
		ClientID:      "client",
		ClientSecret:  "secret",
		ClientVersion: "1",
		SaltKey:       "salt-key",
		SaltIndex:     1,
		RedirectURL:   "https://shop.example.com/payment/return",
		ExpireAfter:   1200,
	})
}

func TestInitiatePayment(t *testing.T) {
	stub := &gatewayStub{}
	srv := newStubServer(t, stub)
	defer srv.Close()

	client := newTestClient(srv.URL)

	result, err := client.InitiatePayment(context.Background(), "order-1", "user-1", 499)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.TransactionID, "MTID-"))
	assert.Len(t, result.TransactionID, len("MTID-")+8)
	assert.Equal(t, "https://pay.example.com/session/xyz", result.RedirectURL)

	assert.Equal(t, "O-Bearer tok-123", stub.lastPayAuth)
	assert.Equal(t, float64(49900), stub.lastPayBody["amount"], "amount sent in smallest unit")
	assert.Equal(t, result.TransactionID, stub.lastPayBody["merchantOrderId"])
}

func TestInitiatePaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth/token" {
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"state": "FAILED", "message": "limit exceeded"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, err := client.InitiatePayment(context.Background(), "order-1", "user-1", 499)
	assert.Error(t, err)
}

func TestAccessTokenCached(t *testing.T) {
	stub := &gatewayStub{statusCode: "PAYMENT_SUCCESS"}
	srv := newStubServer(t, stub)
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := client.InitiatePayment(ctx, "order-1", "user-1", 299)
	require.NoError(t, err)
	_, _, err = client.CheckStatus(ctx, "MTID-abc12345")
	require.NoError(t, err)

	assert.Equal(t, 1, stub.tokenCalls, "second call reuses the cached token")
}

func TestCheckStatusMapping(t *testing.T) {
	tests := []struct {
		code string
		want PaymentStatus
	}{
		{"PAYMENT_SUCCESS", StatusSuccess},
		{"PAYMENT_ERROR", StatusFailure},
		{"PAYMENT_DECLINED", StatusFailure},
		{"TIMED_OUT", StatusFailure},
		{"PAYMENT_PENDING", StatusPending},
		{"SOMETHING_NEW", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			stub := &gatewayStub{statusCode: tt.code}
			srv := newStubServer(t, stub)
			defer srv.Close()

			client := newTestClient(srv.URL)

			status, detail, err := client.CheckStatus(context.Background(), "MTID-abc12345")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, detail)
		})
	}
}

func TestCheckStatusSignsRequest(t *testing.T) {
	stub := &gatewayStub{statusCode: "PAYMENT_SUCCESS"}
	srv := newStubServer(t, stub)
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, _, err := client.CheckStatus(context.Background(), "MTID-abc12345")
	require.NoError(t, err)

	expected := client.signPayload("/pg/v1/status/MERCHANT1/MTID-abc12345")
	assert.Equal(t, expected, stub.statusSig)
	assert.True(t, strings.HasSuffix(stub.statusSig, "###1"))
	assert.Equal(t, "O-Bearer tok-123", stub.statusAuth)
}

func signedCallback(client *Client, transactionID string) ([]byte, string) {
	inner, _ := json.Marshal(map[string]string{"merchantTransactionId": transactionID})
	encoded := base64.StdEncoding.EncodeToString(inner)
	body := fmt.Sprintf(`{"response":%q}`, encoded)
	return []byte(body), client.signPayload(encoded)
}

func TestParseCallback(t *testing.T) {
	client := newTestClient("http://unused")

	body, signature := signedCallback(client, "MTID-abc12345")

	transactionID, err := client.ParseCallback(body, signature)
	require.NoError(t, err)
	assert.Equal(t, "MTID-abc12345", transactionID)
}

func TestParseCallbackRejectsBadSignature(t *testing.T) {
	client := newTestClient("http://unused")

	body, signature := signedCallback(client, "MTID-abc12345")

	_, err := client.ParseCallback(body, signature+"x")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// A signature computed with a different salt must not verify either.
	other := newTestClient("http://unused")
	other.cfg.SaltKey = "different-salt"
	_, otherSig := signedCallback(other, "MTID-abc12345")
	_, err = client.ParseCallback(body, otherSig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestParseCallbackMalformed(t *testing.T) {
	client := newTestClient("http://unused")

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not-json"},
		{"empty response", `{"response":""}`},
		{"missing response", `{"other":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ParseCallback([]byte(tt.body), "sig")
			assert.ErrorIs(t, err, ErrMalformedCallback)
		})
	}
}

func TestParseCallbackMissingTransactionID(t *testing.T) {
	client := newTestClient("http://unused")

	inner, _ := json.Marshal(map[string]string{"something": "else"})
	encoded := base64.StdEncoding.EncodeToString(inner)
	body := fmt.Sprintf(`{"response":%q}`, encoded)

	_, err := client.ParseCallback([]byte(body), client.signPayload(encoded))
	assert.ErrorIs(t, err, ErrMalformedCallback)
}
