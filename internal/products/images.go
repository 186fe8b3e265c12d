package products

import (
	"net/url"
	"strings"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

// MaxImages caps the ordered image set of one product.
const MaxImages = 10

// NormalizeImageURLs trims, validates and de-duplicates urls, keeping order.
func NormalizeImageURLs(urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "image urls must be absolute http(s) urls").
				WithDetails(map[string]any{"url": u})
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) > MaxImages {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "a product can have at most %d images", MaxImages)
	}
	return out, nil
}
