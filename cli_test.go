package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-realtime/app"
	"lms-realtime/config"
	"lms-realtime/middleware"
	"lms-realtime/models"
	"lms-realtime/store"
)

func testToken(t *testing.T) string {
	claims := &middleware.Claims{
		UserID: "3",
		Name:   "Grace",
		Role:   models.RoleInstructor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func certServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/certificates/verify/GOOD":
			w.Write([]byte(`{"success":true,"certificate":{"id":"GOOD","studentName":"Grace","courseTitle":"Go","issuedAt":"2026-01-02T00:00:00Z"}}`))
		case "/api/certificates/verify/BROKEN":
			w.Write([]byte(`{"success":`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCLI(t *testing.T, input string) (*commandLine, *bytes.Buffer) {
	srv := certServer(t)
	conf := &config.Config{
		APIURL:            srv.URL + "/api",
		SocketURL:         "ws://127.0.0.1:1/ws",
		Env:               "test",
		NotificationLimit: 20,
		RequestTimeout:    time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      time.Second,
		Prompt:            "{{user.name}}@{{channel.id}}> ",
	}
	a := app.NewWith(conf, store.NewMemory(), nil)
	t.Cleanup(func() { a.Close() })

	out := &bytes.Buffer{}
	return newCommandLine(a, strings.NewReader(input), out, 0), out
}

func (cli *commandLine) output() string {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	return cli.out.(*bytes.Buffer).String()
}

func TestPromptToken(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		origTerm, origRead := isTerminalFunc, readPasswordFunc
		defer func() { isTerminalFunc, readPasswordFunc = origTerm, origRead }()
		isTerminalFunc = func(int) bool { return true }
		readPasswordFunc = func(int) ([]byte, error) { return []byte(" secret \n"), nil }

		cli, _ := newTestCLI(t, "")
		tok, err := cli.promptToken()
		require.NoError(t, err)
		assert.Equal(t, "secret", tok)
	})

	t.Run("piped", func(t *testing.T) {
		origTerm := isTerminalFunc
		defer func() { isTerminalFunc = origTerm }()
		isTerminalFunc = func(int) bool { return false }

		cli, _ := newTestCLI(t, "piped-token\n")
		tok, err := cli.promptToken()
		require.NoError(t, err)
		assert.Equal(t, "piped-token", tok)
	})
}

func TestHandleWithoutSession(t *testing.T) {
	cli, _ := newTestCLI(t, "")
	ctx := context.Background()

	require.NoError(t, cli.handle(ctx, "/help"))
	require.NoError(t, cli.handle(ctx, "/rooms"))
	require.NoError(t, cli.handle(ctx, "   "))
	assert.Equal(t, errQuit, cli.handle(ctx, "/quit"))

	out := cli.output()
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "Not logged in")
}

func TestHandleVerify(t *testing.T) {
	cli, _ := newTestCLI(t, "")
	ctx := context.Background()
	_, err := cli.app.Session.Login(testToken(t), nil)
	require.NoError(t, err)

	require.NoError(t, cli.handle(ctx, "/verify GOOD"))
	assert.Contains(t, cli.output(), `Grace completed "Go" on 2026-01-02`)

	require.NoError(t, cli.handle(ctx, "/verify MISSING"))
	assert.Contains(t, cli.output(), "Not found.")

	require.NoError(t, cli.handle(ctx, "/bogus"))
	assert.Contains(t, cli.output(), "Unknown command /bogus")
}

func TestHandleRecoversThroughBoundary(t *testing.T) {
	cli, _ := newTestCLI(t, "")
	ctx := context.Background()
	_, err := cli.app.Session.Login(testToken(t), nil)
	require.NoError(t, err)

	require.NoError(t, cli.handle(ctx, "/verify BROKEN"))
	assert.Contains(t, cli.output(), "Something went wrong (unexpected)")

	require.NoError(t, cli.handle(ctx, "/verify GOOD"))
	assert.Contains(t, cli.output(), "Something went wrong earlier")
	assert.NotContains(t, cli.output(), "Certificate GOOD")

	require.NoError(t, cli.handle(ctx, "/home"))
	require.NoError(t, cli.handle(ctx, "/verify GOOD"))
	assert.Contains(t, cli.output(), "Certificate GOOD")
}

func TestPromptRendering(t *testing.T) {
	cli, _ := newTestCLI(t, "")
	assert.Equal(t, "@> ", cli.prompt())

	_, err := cli.app.Session.Login(testToken(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "Grace@> ", cli.prompt())
}
