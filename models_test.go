package anihive

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestProfileBelongsTo(t *testing.T) {
	id := uuid.New()
	p := &Profile{ID: id, Username: "mikasa"}

	assert.True(t, p.BelongsTo(id.String()))
	assert.True(t, p.BelongsTo(strings.ToUpper(id.String())))
	assert.False(t, p.BelongsTo(uuid.NewString()))
	assert.False(t, p.BelongsTo(""))

	var nilProfile *Profile
	assert.False(t, nilProfile.BelongsTo(id.String()))
}

func TestProfileDisplayName(t *testing.T) {
	assert.Equal(t, "mikasa", (&Profile{Username: "mikasa"}).DisplayName("m@example.com"))
	assert.Equal(t, "m", (&Profile{}).DisplayName("m@example.com"))

	var nilProfile *Profile
	assert.Equal(t, "eren", nilProfile.DisplayName("eren@example.com"))
	assert.Equal(t, "no-at-sign", nilProfile.DisplayName("no-at-sign"))
}

func TestProfileAvatarURL(t *testing.T) {
	avatar := "https://cdn.example.com/a.png"
	assert.Equal(t, avatar, (&Profile{Avatar: &avatar}).AvatarURL())
	assert.Equal(t, "", (&Profile{}).AvatarURL())

	var nilProfile *Profile
	assert.Equal(t, "", nilProfile.AvatarURL())
}
