package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackDisplayTitle(t *testing.T) {
	tr := Track{Title: "Song", Artist: "A, B"}
	assert.Equal(t, "A, B - Song", tr.DisplayTitle())
	assert.Equal(t, "Song", Track{Title: "Song"}.DisplayTitle())
}

func TestTrackSearchArtist(t *testing.T) {
	assert.Equal(t, "Main", Track{Artist: "Main, Feat", PrimaryArtist: "Main"}.SearchArtist())
	assert.Equal(t, "First", Track{Artist: "First, Second"}.SearchArtist())
	assert.Equal(t, "Solo", Track{Artist: "Solo"}.SearchArtist())
}

func TestTokenExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	valid := &TokenData{ExpiresAt: float64(now.Add(time.Hour).Unix())}
	assert.False(t, valid.IsExpired(now))

	expired := &TokenData{ExpiresAt: float64(now.Add(-time.Second).Unix())}
	assert.True(t, expired.IsExpired(now))

	assert.True(t, (&TokenData{}).IsExpired(now))
}
