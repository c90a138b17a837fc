package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitfc/litehook/internal/model"
)

func samplePost(id string) model.Post {
	author := "Author"
	text := "This is a test!"
	views := "1.5K"
	date := "2026-02-14T15:45:21+00:00"
	return model.Post{
		ID:     id,
		Author: &author,
		Text:   &text,
		Media:  []string{"https://example.com/image.png"},
		Reactions: []model.Reaction{
			{Emoji: "🩷", Count: "10"},
			{Emoji: "❄️", Count: "5"},
		},
		Views: &views,
		Date:  &date,
	}
}

func TestInsertAndGetPost(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	post := samplePost("test/1")
	require.NoError(t, s.InsertPost(post))

	got, err := s.GetPost(post.ID)
	require.NoError(t, err)
	assert.Equal(t, post, got)
}

func TestInsertPostIsIdempotent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	post := samplePost("test/1")
	require.NoError(t, s.InsertPost(post))
	require.NoError(t, s.InsertPost(post))

	got, err := s.GetPost(post.ID)
	require.NoError(t, err)
	assert.Equal(t, post, got)
}

func TestGetNonexistentPost(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetPost("test/-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListenerCRUD(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	row := model.ListenerRow{
		ID:           "news",
		Active:       true,
		PollInterval: 60,
		ChannelURL:   "https://t.me/s/news",
		WebhookURL:   "https://w.example/h",
	}

	require.NoError(t, s.InsertListener(row))

	got, err := s.GetListener("news")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	all, err := s.GetAllListeners()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteListener("news"))
	_, err = s.GetListener("news")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent id is not an error.
	require.NoError(t, s.DeleteListener("news"))
}
