package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Path segments that mark a page kind.
const (
	segmentReviews = "reviews"
	segmentAlbums  = "albums"
	segmentStaff   = "staff"
	segmentArtists = "artists"
)

// AttributesOf derives page-kind flags from the path segments of rawURL.
// Several flags may be set at once.
func AttributesOf(rawURL string) Attributes {
	var attrs Attributes
	u, err := url.Parse(rawURL)
	if err != nil {
		return attrs
	}
	for _, segment := range strings.Split(u.Path, "/") {
		switch strings.ToLower(segment) {
		case segmentReviews:
			attrs.IsReview = true
		case segmentAlbums:
			attrs.IsAlbum = true
		case segmentStaff:
			attrs.IsAuthor = true
		case segmentArtists:
			attrs.IsArtist = true
		}
	}
	return attrs
}

// NewURL builds a URL record with flags derived from its path.
func NewURL(id int64, rawURL string) URL {
	return URL{ID: id, URL: rawURL, Attributes: AttributesOf(rawURL)}
}

// SitemapDate reads the year, month and week query parameters of a weekly
// sitemap URL. Missing parameters come back as zero.
func SitemapDate(rawURL string) (year, month, week int, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse sitemap url: %w", err)
	}
	q := u.Query()
	if year, err = queryInt(q, "year"); err != nil {
		return 0, 0, 0, err
	}
	if month, err = queryInt(q, "month"); err != nil {
		return 0, 0, 0, err
	}
	if week, err = queryInt(q, "week"); err != nil {
		return 0, 0, 0, err
	}
	return year, month, week, nil
}

func queryInt(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("sitemap %s %q: %w", key, raw, err)
	}
	return v, nil
}

// JoinSite resolves path against the site base without doubling slashes.
func JoinSite(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
