package anihive

import (
	"context"
	"net/url"

	"github.com/anihive/anihive/identity"
	"github.com/gofiber/fiber/v2"
)

const (
	profilesTable   = "profiles"
	profilesColumns = "id,username,avatar"
)

// RowSelector reads a single row through the REST API of the identity
// service. identity.Client implements it.
type RowSelector interface {
	SelectOne(ctx context.Context, table, columns string, filters url.Values, dst any) (bool, error)
}

// RESTProfileFinder loads profiles with the access token of the current
// session, so row level security on the profiles table applies.
type RESTProfileFinder struct {
	rows RowSelector
}

func NewRESTProfileFinder(rows RowSelector) *RESTProfileFinder {
	return &RESTProfileFinder{rows: rows}
}

// FindProfile returns the profile of userID or nil when there is none.
// Errors keep the provider message.
func (f *RESTProfileFinder) FindProfile(ctx context.Context, userID string) (*Profile, error) {
	profile := &Profile{}
	found, err := f.rows.SelectOne(ctx, profilesTable, profilesColumns, url.Values{
		"id": {"eq." + userID},
	}, profile)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return profile, nil
}

// ProfileSource picks the ProfileFinder of a request.
type ProfileSource func(c *fiber.Ctx) ProfileFinder

// StaticProfiles serves every request from finder.
func StaticProfiles(finder ProfileFinder) ProfileSource {
	return func(*fiber.Ctx) ProfileFinder {
		return finder
	}
}

// RESTProfiles reads profiles through the request scoped identity client.
func RESTProfiles() ProfileSource {
	return func(c *fiber.Ctx) ProfileFinder {
		client, ok := identity.FromFiber(c)
		if !ok {
			return nil
		}
		return NewRESTProfileFinder(client)
	}
}
