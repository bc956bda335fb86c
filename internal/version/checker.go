package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const checkTimeout = 5 * time.Second

// ReleasesURL is the endpoint returning the latest published release
var ReleasesURL = "https://api.github.com/repos/studiowebux/wsprobe/releases/latest"

// Update describes the latest published release
type Update struct {
	Available bool
	Latest    string
	URL       string
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckForUpdate asks the release endpoint whether a newer version than
// current exists
func CheckForUpdate(ctx context.Context, current string) (*Update, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "wsprobe/"+current)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	return &Update{
		Available: latest != "" && isNewer(latest, strings.TrimPrefix(current, "v")),
		Latest:    latest,
		URL:       rel.HTMLURL,
	}, nil
}

// isNewer compares dotted numeric versions, ignoring pre-release and build
// suffixes
func isNewer(latest, current string) bool {
	a, b := numericParts(latest), numericParts(current)
	for len(a) < len(b) {
		a = append(a, 0)
	}
	for len(b) < len(a) {
		b = append(b, 0)
	}

	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func numericParts(v string) []int {
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	var parts []int
	for _, p := range strings.Split(v, ".") {
		if n, err := strconv.Atoi(p); err == nil {
			parts = append(parts, n)
		}
	}
	return parts
}
