package anihive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/anihive/anihive/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	table   string
	columns string
	filters url.Values
	row     map[string]any
	err     error
}

func (f *fakeRows) SelectOne(_ context.Context, table, columns string, filters url.Values, dst any) (bool, error) {
	f.table, f.columns, f.filters = table, columns, filters
	if f.err != nil {
		return false, f.err
	}
	if f.row == nil {
		return false, nil
	}
	raw, err := json.Marshal(f.row)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dst)
}

func TestRESTProfileFinder(t *testing.T) {
	id := uuid.New()
	rows := &fakeRows{row: map[string]any{"id": id.String(), "username": "armin", "avatar": nil}}

	profile, err := NewRESTProfileFinder(rows).FindProfile(context.Background(), id.String())
	require.NoError(t, err)
	require.NotNil(t, profile)

	assert.Equal(t, "profiles", rows.table)
	assert.Equal(t, "id,username,avatar", rows.columns)
	assert.Equal(t, "eq."+id.String(), rows.filters.Get("id"))
	assert.Equal(t, "armin", profile.Username)
	assert.Equal(t, "", profile.AvatarURL())
}

func TestRESTProfileFinderNoRow(t *testing.T) {
	profile, err := NewRESTProfileFinder(&fakeRows{}).FindProfile(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestRESTProfileFinderKeepsProviderMessage(t *testing.T) {
	rows := &fakeRows{err: &identity.Error{Status: http.StatusUnauthorized, Message: "JWT expired"}}

	_, err := NewRESTProfileFinder(rows).FindProfile(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, "JWT expired", err.Error())
}

func TestRESTProfileFinderOverIdentityClient(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq."+id.String(), r.URL.Query().Get("id"))
		assert.Equal(t, "id,username,avatar", r.URL.Query().Get("select"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": id.String(), "username": "sasha"}})
	}))
	defer srv.Close()

	client := identity.New(identity.Config{URL: srv.URL, APIKey: "anon"})

	profile, err := NewRESTProfileFinder(client).FindProfile(context.Background(), id.String())
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "sasha", profile.Username)
}
