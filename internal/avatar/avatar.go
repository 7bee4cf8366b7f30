// Package avatar resolves X handles to profile images and fetches them.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/oauth2"
)

// ErrAvatarUnavailable means no real image could be found for a handle.
// Callers fall back to a placeholder.
var ErrAvatarUnavailable = errors.New("avatar unavailable")

const maxImageBytes = 10 << 20

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// CleanHandle trims whitespace and a leading @
func CleanHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

// ValidHandle reports whether h (without @) is a well-formed X handle
func ValidHandle(h string) bool {
	return handlePattern.MatchString(h)
}

// PlaceholderURL is the image reference used when a lookup fails
func PlaceholderURL(handle string) string {
	return "/placeholder.svg?height=400&width=400&text=" + url.QueryEscape(handle)
}

// IsPlaceholder reports whether ref came from PlaceholderURL
func IsPlaceholder(ref string) bool {
	return strings.HasPrefix(ref, "/placeholder.svg")
}

// Profile is the subset of an X user we need
type Profile struct {
	ID              string `json:"id,omitempty"`
	Username        string `json:"username"`
	Name            string `json:"name,omitempty"`
	ProfileImageURL string `json:"profile_image_url"`
}

// XResolver looks up profile images through the X API
type XResolver struct {
	baseURL string
	client  *http.Client
}

// NewXResolver creates a resolver. With an empty token every lookup resolves
// to a placeholder.
func NewXResolver(baseURL, bearerToken string) *XResolver {
	r := &XResolver{baseURL: strings.TrimRight(baseURL, "/")}
	if bearerToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken, TokenType: "Bearer"})
		r.client = oauth2.NewClient(context.Background(), src)
		r.client.Timeout = 10 * time.Second
	}
	return r
}

// Lookup fetches the profile for a handle and upgrades the image to full size
func (r *XResolver) Lookup(ctx context.Context, handle string) (*Profile, error) {
	handle = CleanHandle(handle)
	if r.client == nil {
		return nil, fmt.Errorf("%w: no X bearer token configured", ErrAvatarUnavailable)
	}
	if !ValidHandle(handle) {
		return nil, fmt.Errorf("%w: invalid handle %q", ErrAvatarUnavailable, handle)
	}

	endpoint := fmt.Sprintf("%s/2/users/by/username/%s?user.fields=profile_image_url", r.baseURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: X API returned %d for %s", ErrAvatarUnavailable, resp.StatusCode, handle)
	}

	var body struct {
		Data *Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding X response: %v", ErrAvatarUnavailable, err)
	}
	if body.Data == nil || body.Data.ProfileImageURL == "" {
		return nil, fmt.Errorf("%w: X response for %s has no profile image", ErrAvatarUnavailable, handle)
	}

	body.Data.ProfileImageURL = strings.Replace(body.Data.ProfileImageURL, "_normal", "", 1)
	return body.Data, nil
}

// Resolve never fails: lookup errors are logged and a placeholder is returned
func (r *XResolver) Resolve(ctx context.Context, handle string) Profile {
	handle = CleanHandle(handle)
	p, err := r.Lookup(ctx, handle)
	if err != nil {
		log.WithError(err).WithField("handle", handle).Warn("using placeholder avatar")
		return Profile{Username: handle, ProfileImageURL: PlaceholderURL(handle)}
	}
	return *p
}

// Loader downloads and decodes avatar images
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader; a nil client gets a 15 s timeout default
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Loader{client: client}
}

// Load fetches ref and decodes it as PNG, JPEG, GIF or WebP
func (l *Loader) Load(ctx context.Context, ref string) (image.Image, error) {
	if ref == "" || IsPlaceholder(ref) {
		return nil, ErrAvatarUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrAvatarUnavailable, ref, resp.StatusCode)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrAvatarUnavailable, ref, err)
	}
	log.WithFields(log.Fields{"ref": ref, "format": format}).Debug("avatar loaded")
	return img, nil
}
