package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	stored := zerolog.New(&buf).With().Str(FieldConnID, "conn-1").Logger()
	ctx := WithLogger(context.Background(), stored)

	logger := Ctx(ctx)
	logger.Warn().Int(FieldUserID, 7).Msg("buffer full")

	entry := lastLine(t, &buf)
	assert.Equal(t, "conn-1", entry[FieldConnID])
	assert.Equal(t, float64(7), entry[FieldUserID])
	assert.Equal(t, "warn", entry["level"])
}

func TestCtxFallsBackToProcessLogger(t *testing.T) {
	var buf bytes.Buffer
	saved := global
	global = zerolog.New(&buf)
	t.Cleanup(func() { global = saved })

	logger := Ctx(context.Background())
	logger.Info().Msg("fallback")
	assert.Equal(t, "fallback", lastLine(t, &buf)["message"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestGinMiddlewareAttachesRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(GinMiddleware(zerolog.New(&buf)))
	r.GET("/ping", func(c *gin.Context) {
		logger := Ctx(c.Request.Context())
		logger.Info().Msg("handler")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-9", rec.Header().Get("X-Request-ID"))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var handler map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &handler))
	assert.Equal(t, "req-9", handler[FieldRequestID])
	assert.Equal(t, "request completed", lastLine(t, &buf)["message"])
}
