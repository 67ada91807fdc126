package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcard/internal/card/models"
	id "tapcard/pkg/domain"
)

func TestNormalizePaths_SafetyBoundary(t *testing.T) {
	// Stored documents are not trusted: nothing outside the cards/ namespace
	// may ever reach a delete call.
	input := []string{
		"cards/user/u1/c1/gallery/a.jpg",
		"  cards/user/u1/c1/gallery/a.jpg  ", // duplicate after trim
		"../secrets",
		"",
		"   ",
		"/etc/passwd",
		"https://cdn.example.com/cards/user/u1/c1/gallery/a.jpg",
		"cards/../../../etc/shadow",
		"other/cards/user/x.jpg",
		"cards/anon/abcd1234abcd1234/c2/avatar/b.png",
	}

	got := NormalizePaths(input)

	assert.Equal(t, []string{
		"cards/user/u1/c1/gallery/a.jpg",
		"cards/anon/abcd1234abcd1234/c2/avatar/b.png",
	}, got)
	for _, p := range got {
		assert.True(t, strings.HasPrefix(p, PathPrefix), "unsafe path survived: %s", p)
	}
}

func TestNormalizePaths_Empty(t *testing.T) {
	assert.Empty(t, NormalizePaths(nil))
	assert.Empty(t, NormalizePaths([]string{"", "  ", "../x"}))
}

func TestCollectPaths(t *testing.T) {
	card := &models.Card{
		Design: models.Design{
			BackgroundPath: "cards/anon/h/c/background/bg.jpg",
			AvatarPath:     "cards/anon/h/c/avatar/av.jpg",
		},
		Gallery: []models.GalleryItem{
			{Path: "cards/anon/h/c/gallery/1.jpg", ThumbPath: "cards/anon/h/c/gallerythumb/1.jpg"},
		},
		Uploads: []models.Upload{
			{Kind: KindGallery, Path: "cards/anon/h/c/gallery/1.jpg"}, // duplicate of gallery path
			{Kind: KindDesign, Path: "cards/anon/h/c/design/d.png"},
		},
	}

	got := CollectPaths(card)

	assert.Len(t, got, 5)
	assert.Contains(t, got, "cards/anon/h/c/design/d.png")
	assert.Contains(t, got, "cards/anon/h/c/gallerythumb/1.jpg")
}

func TestAnonNamespace(t *testing.T) {
	ns := AnonNamespace("visitor-token-1")

	assert.True(t, strings.HasPrefix(ns, "anon/"))
	assert.Len(t, strings.TrimPrefix(ns, "anon/"), 16)
	// Deterministic, and distinct tokens land in distinct namespaces.
	assert.Equal(t, ns, AnonNamespace("visitor-token-1"))
	assert.NotEqual(t, ns, AnonNamespace("visitor-token-2"))
}

func TestRewriteOwnedPath(t *testing.T) {
	userID := id.NewUserID()
	cardID := id.NewCardID()

	t.Run("anon path moves to user namespace", func(t *testing.T) {
		old := "cards/anon/deadbeefdeadbeef/" + cardID.String() + "/gallery/photo.jpg"
		got, err := RewriteOwnedPath(old, userID, cardID)
		require.NoError(t, err)
		assert.Equal(t, "cards/user/"+userID.String()+"/"+cardID.String()+"/gallery/photo.jpg", got)
	})

	t.Run("kind and filename are preserved", func(t *testing.T) {
		old := "cards/anon/deadbeefdeadbeef/" + cardID.String() + "/gallerythumb/thumb.webp"
		got, err := RewriteOwnedPath(old, userID, cardID)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got, "/gallerythumb/thumb.webp"))
	})

	t.Run("rejects paths outside the namespace", func(t *testing.T) {
		_, err := RewriteOwnedPath("../secrets", userID, cardID)
		assert.Error(t, err)
	})

	t.Run("rejects paths too short to carry kind and file", func(t *testing.T) {
		_, err := RewriteOwnedPath("cards/orphan", userID, cardID)
		assert.Error(t, err)
	})
}

func TestNewObjectFilename(t *testing.T) {
	name := NewObjectFilename("jpg")
	assert.True(t, strings.HasSuffix(name, ".jpg"))
	assert.NotEqual(t, name, NewObjectFilename("jpg"))

	assert.False(t, strings.Contains(NewObjectFilename(""), "."))
	assert.True(t, strings.HasSuffix(NewObjectFilename(".png"), ".png"))
}
