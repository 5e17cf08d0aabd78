package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha1Upper(password string) string {
	sum := sha1.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func TestHIBPBreachChecker_FindsSuffix(t *testing.T) {
	digest := sha1Upper("password123")
	var gotPath, gotPadding string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPadding = r.Header.Get("Add-Padding")
		fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n%s:3730471\r\n00D4F6E8FA6EECAD2A3AA415EEC418D38EC:2\r\n", digest[5:])
	}))
	defer server.Close()

	checker := NewHIBPBreachChecker(server.URL, time.Second, testLogger())
	count := checker.CountBreaches(context.Background(), "password123")

	assert.Equal(t, 3730471, count)
	assert.Equal(t, "/range/"+digest[:5], gotPath)
	assert.Equal(t, "true", gotPadding)
}

func TestHIBPBreachChecker_SendsOnlyPrefix(t *testing.T) {
	digest := sha1Upper("s3cret-Value!")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotContains(t, r.URL.String(), digest[5:])
		assert.NotContains(t, r.URL.String(), "s3cret")
		assert.Len(t, strings.TrimPrefix(r.URL.Path, "/range/"), 5)
	}))
	defer server.Close()

	NewHIBPBreachChecker(server.URL, time.Second, testLogger()).CountBreaches(context.Background(), "s3cret-Value!")
}

func TestHIBPBreachChecker_NoMatchIsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\n")
	}))
	defer server.Close()

	count := NewHIBPBreachChecker(server.URL, time.Second, testLogger()).CountBreaches(context.Background(), "unique-Passw0rd!")
	assert.Zero(t, count)
}

func TestHIBPBreachChecker_PaddingEntriesCountZero(t *testing.T) {
	digest := sha1Upper("padded")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:0\n", digest[5:])
	}))
	defer server.Close()

	count := NewHIBPBreachChecker(server.URL, time.Second, testLogger()).CountBreaches(context.Background(), "padded")
	assert.Zero(t, count)
}

func TestHIBPBreachChecker_FailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "rate limited upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			checker := NewHIBPBreachChecker(server.URL, 100*time.Millisecond, testLogger())
			assert.Zero(t, checker.CountBreaches(context.Background(), "password123"))
		})
	}
}

func TestHIBPBreachChecker_UnreachableHostFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	checker := NewHIBPBreachChecker(url, 100*time.Millisecond, testLogger())
	assert.Zero(t, checker.CountBreaches(context.Background(), "password123"))
}

func TestHIBPBreachChecker_OutageNeverBlocksRegistration(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	accounts := NewMockAccountRepository()
	svc := newTestAccountService(t, accounts, NewHIBPBreachChecker(server.URL, time.Second, testLogger()))

	account, err := svc.Register(context.Background(), "Alice", "alice@example.com", testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsBreached(t *testing.T) {
	assert.True(t, isBreached(1, 1))
	assert.True(t, isBreached(10, 5))
	assert.False(t, isBreached(0, 1))
	assert.False(t, isBreached(4, 5))
	assert.False(t, isBreached(1000, 0))
}
