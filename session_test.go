package anihive

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormSessionPendingEmailAndFlash(t *testing.T) {
	store := session.New()
	app := fiber.New()

	app.Get("/set", func(c *fiber.Ctx) error {
		fs, err := LoadFormSession(store, c)
		require.NoError(t, err)

		assert.Equal(t, "", fs.PendingEmail())
		fs.SetPendingEmail("a@b.com")
		fs.SetFlash(Flash{Kind: FlashSuccess, Title: "Saved"})
		return fs.Save()
	})
	app.Get("/read", func(c *fiber.Ctx) error {
		fs, err := LoadFormSession(store, c)
		require.NoError(t, err)

		assert.Equal(t, "a@b.com", fs.PendingEmail())
		assert.Equal(t, &Flash{Kind: FlashSuccess, Title: "Saved"}, fs.PopFlash())
		assert.Nil(t, fs.PopFlash())
		fs.ClearPendingEmail()
		return fs.Save()
	})
	app.Get("/empty", func(c *fiber.Ctx) error {
		fs, err := LoadFormSession(store, c)
		require.NoError(t, err)

		assert.Equal(t, "", fs.PendingEmail())
		assert.Nil(t, fs.PopFlash())
		return fs.Save()
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/set", nil))
	require.NoError(t, err)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	for _, path := range []string{"/read", "/empty"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
		_, err := app.Test(req)
		require.NoError(t, err)
	}
}

func TestFormSessionSavesOnlyWhenChanged(t *testing.T) {
	store := session.New()
	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		fs, err := LoadFormSession(store, c)
		require.NoError(t, err)

		fs.SetPendingEmail("")
		fs.ClearPendingEmail()
		assert.False(t, fs.dirty)
		return fs.Save()
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Cookies())
}
