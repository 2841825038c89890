//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/testutil"
)

func TestAuth_MissingToken(t *testing.T) {
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.SetT(t)

	resp, err := client.GET("/api/v1/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decodeErrorMessage(t, resp), "missing authorization header")
}

func TestAuth_MalformedHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testServer.URL+"/api/v1/records", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decodeErrorMessage(t, resp), "invalid authorization header format")
}

func TestAuth_GarbageToken(t *testing.T) {
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = "not-a-jwt"
	client.SetT(t)

	resp, err := client.GET("/api/v1/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAuth_ExpiredToken(t *testing.T) {
	claims := identity.Claims{
		UserID:   "user-1",
		TenantID: newTenantID(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = signed
	client.SetT(t)

	resp, err := client.GET("/api/v1/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAuth_TokenWithoutTenant(t *testing.T) {
	claims := identity.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = signed
	client.SetT(t)

	resp, err := client.GET("/api/v1/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "tokens must carry a tenant claim")
	_ = resp.Body.Close()
}

func TestAuth_WrongSigningKey(t *testing.T) {
	claims := identity.Claims{
		UserID:   "user-1",
		TenantID: newTenantID(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = signed
	client.SetT(t)

	resp, err := client.GET("/api/v1/records")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAuth_SubjectFallback(t *testing.T) {
	// Tokens from identity providers often carry only the standard sub
	// claim; the caller identity falls back to it.
	claims := identity.Claims{
		TenantID: newTenantID(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = signed
	client.SetT(t)

	resp, err := client.POST("/api/v1/devices", map[string]any{
		"device_id": "sub-device",
		"token":     "sub-token",
		"platform":  "web",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	device := decodeDevice(t, resp)
	assert.Equal(t, "subject-user", device.UserID)
}
