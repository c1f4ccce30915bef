package logger

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestPrintfFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrintf(setup(buf, false), "store")

	p.Info("signed in %s", "a@b.com")
	p.Debug("hidden at info level")
	p.Error("failed: %v", "boom")

	entries := lines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "signed in a@b.com", entries[0]["message"])
	assert.Equal(t, "store", entries[0]["component"])
	assert.Equal(t, "error", entries[1]["level"])
	assert.Equal(t, "failed: boom", entries[1]["message"])
}

func TestRequestsLogsStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	app := fiber.New()
	app.Use(Requests(setup(buf, false)))
	app.Get("/ok", func(c *fiber.Ctx) error {
		zerolog.Ctx(c.UserContext()).Info().Msg("inside")
		return c.SendString("ok")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	_, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)

	entries := lines(t, buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "inside", entries[0]["message"])
	assert.Equal(t, "/ok", entries[0]["path"])
	assert.Equal(t, float64(200), entries[1]["status"])
	assert.Equal(t, "warn", entries[2]["level"])
	assert.Equal(t, float64(404), entries[2]["status"])
}
