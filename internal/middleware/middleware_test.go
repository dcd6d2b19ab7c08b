package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"autolist-backend/internal/infrastructure/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func readBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out), string(b))
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
		{&repository.ValidationError{Model: "Brand", Err: repository.ErrUnknownField}, fiber.StatusBadRequest},
		{&repository.KnownRequestError{Code: repository.CodeRecordNotFound}, fiber.StatusNotFound},
		{fmt.Errorf("step: %w", &repository.KnownRequestError{Code: repository.CodeUniqueViolation}), fiber.StatusConflict},
		{&repository.KnownRequestError{Code: repository.CodeForeignKeyViolation}, fiber.StatusConflict},
		{&repository.KnownRequestError{Code: repository.CodeNotNullViolation}, fiber.StatusBadRequest},
		{&repository.KnownRequestError{Code: repository.CodeTransactionTimeout}, fiber.StatusRequestTimeout},
		{&repository.KnownRequestError{Code: repository.CodeTransactionWait}, fiber.StatusRequestTimeout},
		{&repository.InitializationError{Err: errors.New("no dsn")}, fiber.StatusServiceUnavailable},
		{&repository.UnknownRequestError{Model: "Brand", Err: errors.New("disk full")}, fiber.StatusInternalServerError},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), "%v", tc.err)
	}
}

func TestWriteError(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Tracing())
	app.Get("/known", func(c *fiber.Ctx) error {
		return WriteError(c, &repository.KnownRequestError{
			Code: repository.CodeUniqueViolation, Model: "Brand", Target: []string{"name"}, Err: errors.New("dup"),
		})
	})
	app.Get("/invalid", func(c *fiber.Ctx) error {
		return &repository.ValidationError{Model: "Seller", Field: "email", Err: errors.New("bad email")}
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return errors.New("dial tcp 10.0.0.1:5432: connection refused")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/known", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	detail := readBody(t, resp.Body)["error"].(map[string]interface{})
	assert.EqualValues(t, fiber.StatusConflict, detail["statusCode"])
	assert.Equal(t, map[string]interface{}{
		"code":   "UNIQUE_VIOLATION",
		"model":  "Brand",
		"target": []interface{}{"name"},
	}, detail["details"])

	resp, err = app.Test(httptest.NewRequest("GET", "/invalid", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	detail = readBody(t, resp.Body)["error"].(map[string]interface{})
	assert.Equal(t, "email", detail["details"].(map[string]interface{})["field"])

	resp, err = app.Test(httptest.NewRequest("GET", "/internal", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(traceIDHeader))
	detail = readBody(t, resp.Body)["error"].(map[string]interface{})
	assert.Equal(t, "Internal Server Error", detail["message"])
	assert.Equal(t, "INTERNAL", detail["details"].(map[string]interface{})["code"])
}

func TestRequireAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }
	app.Post("/guarded", RequireAdminKey(AdminKeyConfig{Hash: string(hash)}), ok)
	app.Post("/open", RequireAdminKey(AdminKeyConfig{}), ok)
	app.Post("/writes/:action", RequireAdminKey(AdminKeyConfig{
		Hash: string(hash),
		When: func(c *fiber.Ctx) bool { return c.Params("action") == "create" },
	}), ok)

	send := func(path, key string) int {
		req := httptest.NewRequest("POST", path, nil)
		if key != "" {
			req.Header.Set(AdminKeyHeader, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusUnauthorized, send("/guarded", ""))
	assert.Equal(t, fiber.StatusForbidden, send("/guarded", "guess"))
	assert.Equal(t, fiber.StatusOK, send("/guarded", "s3cret"))
	assert.Equal(t, fiber.StatusOK, send("/open", ""))
	assert.Equal(t, fiber.StatusOK, send("/writes/findMany", ""))
	assert.Equal(t, fiber.StatusUnauthorized, send("/writes/create", ""))
	assert.Equal(t, fiber.StatusOK, send("/writes/create", "s3cret"))
}

func TestHealthMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Tracing())
	app.Use(HealthMarker(rdb))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/fail", func(c *fiber.Ctx) error { return errors.New("database is down") })
	app.Get("/health/json", func(c *fiber.Ctx) error { return c.SendString("up") })

	for _, path := range []string{"/ok", "/ok", "/fail", "/health/json"} {
		_, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
	}

	total, err := mr.Get(KeyReqTotal)
	require.NoError(t, err)
	assert.Equal(t, "3", total)
	errs, err := mr.Get(KeyReqErrors)
	require.NoError(t, err)
	assert.Equal(t, "1", errs)

	entries, err := rdb.LRange(context.Background(), KeyErrorLog, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &entry))
	assert.Equal(t, "/fail", entry["path"])
	assert.EqualValues(t, 500, entry["status"])
	assert.Equal(t, "database is down", entry["message"])
	assert.NotEmpty(t, entry["trace_id"])

	assert.NotPanics(t, func() {
		app := fiber.New()
		app.Use(HealthMarker(nil))
		app.Get("/", func(c *fiber.Ctx) error { return nil })
		_, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
	})
}

func TestTracing(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	app := fiber.New()
	app.Use(Tracing())
	app.Get("/", func(c *fiber.Ctx) error {
		zerolog.Ctx(c.UserContext()).Info().Msg("loading listing")
		return c.SendString(GetTraceID(c))
	})

	send := func(inbound string) (string, string) {
		req := httptest.NewRequest("GET", "/", nil)
		if inbound != "" {
			req.Header.Set(traceIDHeader, inbound)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		b, _ := io.ReadAll(resp.Body)
		return resp.Header.Get(traceIDHeader), string(b)
	}

	header, local := send("scrape-2024-03-01:batch_7")
	assert.Equal(t, "scrape-2024-03-01:batch_7", header)
	assert.Equal(t, header, local)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scrape-2024-03-01:batch_7", entry["trace_id"])

	for _, bad := range []string{"", "two words", "id\nwith-newline", strings.Repeat("a", maxTraceIDLen+1)} {
		header, _ = send(bad)
		assert.NotEqual(t, bad, header)
		_, err := uuid.Parse(header)
		assert.NoError(t, err, "a fresh id replaces %q", bad)
	}
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedSuffixes: []string{"autolist.example.com", " .Dealers.example.org "}, DevPassword: "letmein"}))
	app.All("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	send := func(method, origin, devPassword string) *http.Response {
		req := httptest.NewRequest(method, "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if devPassword != "" {
			req.Header.Set("dev-password", devPassword)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := send("GET", "", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	for _, origin := range []string{
		"https://app.autolist.example.com",
		"https://autolist.example.com",
		"https://www.dealers.example.org:8443",
		"http://localhost:3000",
	} {
		resp = send("GET", origin, "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, origin)
		assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"), origin)
		assert.Equal(t, traceIDHeader, resp.Header.Get("Access-Control-Expose-Headers"))
		assert.Equal(t, "Origin", resp.Header.Get("Vary"))
	}

	resp = send("OPTIONS", "https://app.autolist.example.com", "")
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), AdminKeyHeader)
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))

	for _, origin := range []string{
		"https://evil.example.net",
		"https://evilautolist.example.com",
		"https://autolist.example.com.evil.net",
	} {
		resp = send("GET", origin, "")
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, origin)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"), origin)
	}
	body := readBody(t, send("GET", "https://evil.example.net", "").Body)
	assert.Equal(t, "Not allowed by CORS", body["error"].(map[string]interface{})["message"])

	resp = send("GET", "https://evil.example.net", "letmein")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestOriginMatches(t *testing.T) {
	suffixes := []string{"autolist.example.com"}
	assert.True(t, originMatches("HTTPS://Shop.Autolist.Example.com", suffixes))
	assert.False(t, originMatches("https://example.com/autolist.example.com", suffixes))
	assert.False(t, originMatches("https://autolist.example.com@evil.net", suffixes))
	assert.False(t, originMatches("https://app.autolist.example.com", nil))
}
