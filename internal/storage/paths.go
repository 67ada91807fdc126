// Package storage defines the object-storage collaborator contract, the
// path namespace convention, and the path-safety filter that guards every
// bulk delete.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"tapcard/internal/card/models"
	id "tapcard/pkg/domain"
	pstrings "tapcard/pkg/platform/strings"
)

// PathPrefix is the app's storage namespace. Nothing outside it is ever
// passed to a delete call, no matter what a document claims to reference.
const PathPrefix = "cards/"

// Object kinds used in storage paths. The namespace layout is
// cards/{anon/<hash> | user/<userID>}/<cardID>/<kind>/<uuid>.<ext>.
const (
	KindBackground   = "background"
	KindAvatar       = "avatar"
	KindLogo         = "logo"
	KindFavicon      = "favicon"
	KindGallery      = "gallery"
	KindGalleryThumb = "gallerythumb"
	KindDesign       = "design"
)

// AnonNamespace returns the namespace segment for an anonymous visitor. The
// raw token never appears in paths; only the first 16 hex chars of its
// SHA-256 do.
func AnonNamespace(anonID id.AnonymousID) string {
	sum := sha256.Sum256([]byte(anonID))
	return "anon/" + hex.EncodeToString(sum[:])[:16]
}

// UserNamespace returns the namespace segment for a registered owner.
func UserNamespace(userID id.UserID) string {
	return "user/" + userID.String()
}

// ObjectPath builds a full storage path inside the app namespace.
func ObjectPath(namespace string, cardID id.CardID, kind, filename string) string {
	return PathPrefix + namespace + "/" + cardID.String() + "/" + kind + "/" + filename
}

// NewObjectFilename returns a fresh collision-free object filename.
func NewObjectFilename(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// CollectPaths gathers every storage path the card references: gallery paths
// and thumbs, the uploads audit list, and the design path fields.
// Deduplicated, order preserved.
func CollectPaths(card *models.Card) []string {
	if card == nil {
		return nil
	}
	paths := make([]string, 0, 2*len(card.Gallery)+len(card.Uploads)+4)
	for _, item := range card.Gallery {
		paths = append(paths, item.Path, item.ThumbPath)
	}
	for _, up := range card.Uploads {
		paths = append(paths, up.Path)
	}
	paths = append(paths,
		card.Design.BackgroundPath,
		card.Design.AvatarPath,
		card.Design.LogoPath,
		card.Design.FaviconPath,
	)
	return pstrings.DedupeAndTrim(paths)
}

// NormalizePaths trims, deduplicates, canonicalizes, and filters a path list
// down to paths inside the app namespace.
//
// Hard safety invariant: the result never contains a path lacking the
// "cards/" prefix, for any input. Stored documents are not trusted.
func NormalizePaths(paths []string) []string {
	cleaned := pstrings.DedupeAndTrim(paths)
	safe := cleaned[:0]
	for _, p := range cleaned {
		canonical := path.Clean(p)
		if strings.HasPrefix(canonical, PathPrefix) {
			safe = append(safe, canonical)
		}
	}
	return safe
}

// RewriteOwnedPath maps a path from any source namespace to the destination
// user namespace, preserving the trailing <cardID>/<kind>/<file> segments.
// Paths too short to carry a kind and filename are rejected.
func RewriteOwnedPath(oldPath string, userID id.UserID, cardID id.CardID) (string, error) {
	canonical := path.Clean(strings.TrimSpace(oldPath))
	if !strings.HasPrefix(canonical, PathPrefix) {
		return "", fmt.Errorf("path %q outside namespace", oldPath)
	}
	segments := strings.Split(canonical, "/")
	if len(segments) < 3 {
		return "", fmt.Errorf("path %q too short to rewrite", oldPath)
	}
	kind := segments[len(segments)-2]
	file := segments[len(segments)-1]
	return ObjectPath(UserNamespace(userID), cardID, kind, file), nil
}
