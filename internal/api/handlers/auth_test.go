package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kasia/glutenfree-community/internal/api"
	"github.com/kasia/glutenfree-community/internal/repository/postgres"
	"github.com/kasia/glutenfree-community/internal/service"
	"github.com/kasia/glutenfree-community/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postJSON sends a JSON body with a per-test forwarded IP so rate-limit state
// never bleeds between tests sharing the loopback address.
func postJSON(t *testing.T, client *http.Client, url, ip string, body map[string]string) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthHandler_RegisterAndLogin(t *testing.T) {
	ts := testutil.NewTestServer(t)
	client := ts.Client(t)

	resp := postJSON(t, client, ts.URL("/register"), "203.0.113.10", map[string]string{
		"name":             "Ann",
		"email":            "a@b.com",
		"password":         "Abcdefg1",
		"confirm_password": "Abcdefg1",
	})
	defer resp.Body.Close()

	var registerBody struct {
		Success  bool   `json:"success"`
		Redirect string `json:"redirect"`
	}
	testutil.AssertJSONResponse(t, resp, &registerBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, registerBody.Success)
	assert.Equal(t, "/login", registerBody.Redirect)

	resp = postJSON(t, client, ts.URL("/login"), "203.0.113.10", map[string]string{
		"email":    "a@b.com",
		"password": "Abcdefg1",
	})
	defer resp.Body.Close()

	var loginBody struct {
		Success  bool   `json:"success"`
		Redirect string `json:"redirect"`
	}
	testutil.AssertJSONResponse(t, resp, &loginBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, loginBody.Success)
	assert.Equal(t, "/dashboard", loginBody.Redirect)

	// The session cookie from login authenticates /me.
	req, err := http.NewRequest(http.MethodGet, ts.URL("/me"), nil)
	require.NoError(t, err)
	meResp, err := client.Do(req)
	require.NoError(t, err)
	defer meResp.Body.Close()

	var me struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Role  string `json:"role"`
	}
	testutil.AssertJSONResponse(t, meResp, &me)
	assert.Equal(t, http.StatusOK, meResp.StatusCode)
	assert.Equal(t, "a@b.com", me.Email)
	assert.Equal(t, "Ann", me.Name)
	assert.Equal(t, "user", me.Role)
}

func TestAuthHandler_LoginFailures(t *testing.T) {
	ts := testutil.NewTestServer(t)

	testutil.NewUserBuilder().
		WithEmail("member@example.com").
		WithPassword("Correct1password").
		Build(t, ts.DB.DB)

	tests := []struct {
		name           string
		ip             string
		request        map[string]string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "malformed email",
			ip:             "203.0.113.20",
			request:        map[string]string{"email": "nope", "password": "Whatever1"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid input",
		},
		{
			name:           "empty password",
			ip:             "203.0.113.21",
			request:        map[string]string{"email": "member@example.com", "password": ""},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid input",
		},
		{
			name:           "wrong password",
			ip:             "203.0.113.22",
			request:        map[string]string{"email": "member@example.com", "password": "Wrong1password"},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "Invalid email or password",
		},
		{
			name:           "unknown email has identical body",
			ip:             "203.0.113.23",
			request:        map[string]string{"email": "ghost@example.com", "password": "Wrong1password"},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "Invalid email or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := ts.Client(t)
			resp := postJSON(t, client, ts.URL("/login"), tt.ip, tt.request)
			defer resp.Body.Close()
			testutil.AssertErrorResponse(t, resp, tt.expectedStatus, tt.expectedError)
		})
	}

	t.Run("disabled account gets the same generic message", func(t *testing.T) {
		testutil.NewUserBuilder().
			WithEmail("inactive@example.com").
			WithPassword("Correct1password").
			Inactive().
			Build(t, ts.DB.DB)

		client := ts.Client(t)
		resp := postJSON(t, client, ts.URL("/login"), "203.0.113.24", map[string]string{
			"email":    "inactive@example.com",
			"password": "Correct1password",
		})
		defer resp.Body.Close()
		testutil.AssertErrorResponse(t, resp, http.StatusForbidden, "Invalid email or password")
	})
}

func TestAuthHandler_RateLimited(t *testing.T) {
	ts := testutil.NewTestServer(t)
	client := ts.Client(t)

	testutil.NewUserBuilder().
		WithEmail("target@example.com").
		WithPassword("Correct1password").
		Build(t, ts.DB.DB)

	const ip = "198.51.100.30"

	for i := 0; i < 5; i++ {
		resp := postJSON(t, client, ts.URL("/login"), ip, map[string]string{
			"email":    "target@example.com",
			"password": "Wrong1password",
		})
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp := postJSON(t, client, ts.URL("/login"), ip, map[string]string{
		"email":    "target@example.com",
		"password": "Correct1password",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	testutil.AssertJSONResponse(t, resp, &body)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "Too many attempts")
	assert.Contains(t, body.Error, "minutes")
}

func TestAuthHandler_RegisterValidation(t *testing.T) {
	ts := testutil.NewTestServer(t)
	client := ts.Client(t)

	t.Run("field errors are keyed", func(t *testing.T) {
		resp := postJSON(t, client, ts.URL("/register"), "203.0.113.40", map[string]string{
			"name":             "A",
			"email":            "bad",
			"password":         "abcdefgh",
			"confirm_password": "abcdefgh",
		})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body struct {
			Success bool              `json:"success"`
			Errors  map[string]string `json:"errors"`
		}
		testutil.AssertJSONResponse(t, resp, &body)
		assert.False(t, body.Success)
		assert.Contains(t, body.Errors, "name")
		assert.Contains(t, body.Errors, "email")
		assert.Contains(t, body.Errors, "password")
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		testutil.NewUserBuilder().
			WithEmail("taken@example.com").
			Build(t, ts.DB.DB)

		resp := postJSON(t, client, ts.URL("/register"), "203.0.113.41", map[string]string{
			"name":             "Someone Else",
			"email":            "taken@example.com",
			"password":         "Abcdefg1",
			"confirm_password": "Abcdefg1",
		})
		defer resp.Body.Close()
		testutil.AssertErrorResponse(t, resp, http.StatusConflict, "Email already registered")
	})
}

func TestAuthHandler_CSRF(t *testing.T) {
	ts := testutil.NewTestServer(t)
	client := ts.Client(t)

	testutil.NewUserBuilder().
		WithEmail("tabs@example.com").
		WithPassword("Correct1password").
		Build(t, ts.DB.DB)

	// GET /login sets the session cookie and hands out the form token.
	resp, err := client.Get(ts.URL("/login"))
	require.NoError(t, err)
	var form struct {
		CSRFToken string `json:"csrfToken"`
	}
	testutil.AssertJSONResponse(t, resp, &form)
	resp.Body.Close()
	require.NotEmpty(t, form.CSRFToken)

	t.Run("mismatched token rejected despite correct credentials", func(t *testing.T) {
		resp := postJSON(t, client, ts.URL("/login"), "203.0.113.50", map[string]string{
			"email":      "tabs@example.com",
			"password":   "Correct1password",
			"csrf_token": "bogus",
		})
		defer resp.Body.Close()
		testutil.AssertErrorResponse(t, resp, http.StatusForbidden, "Invalid request")
	})

	t.Run("issued token accepted", func(t *testing.T) {
		resp := postJSON(t, client, ts.URL("/login"), "203.0.113.51", map[string]string{
			"email":      "tabs@example.com",
			"password":   "Correct1password",
			"csrf_token": form.CSRFToken,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAuthHandler_LogoutIdempotent(t *testing.T) {
	ts := testutil.NewTestServer(t)
	client := ts.Client(t)

	testutil.NewUserBuilder().
		WithEmail("bye@example.com").
		WithPassword("Correct1password").
		Build(t, ts.DB.DB)

	resp := postJSON(t, client, ts.URL("/login"), "203.0.113.60", map[string]string{
		"email":    "bye@example.com",
		"password": "Correct1password",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, client, ts.URL("/logout"), "203.0.113.60", nil)
		var body struct {
			Success  bool   `json:"success"`
			Redirect string `json:"redirect"`
		}
		testutil.AssertJSONResponse(t, resp, &body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, "logout #%d", i+1)
		assert.True(t, body.Success)
		assert.Equal(t, "/login", body.Redirect)
	}

	// The session is gone.
	req, err := http.NewRequest(http.MethodGet, ts.URL("/me"), nil)
	require.NoError(t, err)
	meResp, err := client.Do(req)
	require.NoError(t, err)
	defer meResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, meResp.StatusCode)
}

type downLimiter struct{}

func (downLimiter) Check(context.Context, string, string) (time.Duration, error) {
	return 0, errors.New("store unreachable")
}

func (downLimiter) RecordFailure(context.Context, string, string) error {
	return errors.New("store unreachable")
}

func (downLimiter) Clear(context.Context, string, string) error {
	return errors.New("store unreachable")
}

func TestAuthHandler_StoreFailureIsServerError(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	cfg := testutil.TestConfig()
	repos := postgres.NewRepositories(testDB.DB)
	services := service.NewServices(repos, downLimiter{}, cfg)

	server := httptest.NewServer(api.NewRouter(services, cfg))
	t.Cleanup(server.Close)

	testutil.NewUserBuilder().
		WithEmail("unlucky@example.com").
		WithPassword("Correct1password").
		Build(t, testDB.DB)

	// Correct credentials still get denied when the attempt store is down.
	client := &http.Client{}
	resp := postJSON(t, client, server.URL+"/login", "203.0.113.70", map[string]string{
		"email":    "unlucky@example.com",
		"password": "Correct1password",
	})
	defer resp.Body.Close()

	testutil.AssertErrorResponse(t, resp, http.StatusInternalServerError, "Internal server error")
}

func TestAuthHandler_MeRequiresSession(t *testing.T) {
	ts := testutil.NewTestServer(t)

	resp, err := http.Get(ts.URL("/me"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Success  bool   `json:"success"`
		Error    string `json:"error"`
		Redirect string `json:"redirect"`
	}
	testutil.AssertJSONResponse(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "/login", body.Redirect)
}
