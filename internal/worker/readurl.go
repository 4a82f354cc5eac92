package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxFetchBodyBytes = 1 << 20 // 1MB

var urlFetchClient = &http.Client{Timeout: 15 * time.Second}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// fetchURL downloads rawURL and extracts its readable text content,
// grounded on _examples/nevindra-oasis/tools/http/http.go's Fetch:
// readability extraction first, a crude tag-strip fallback if that fails.
func fetchURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SeaTurtleBot/1.0)")

	resp, err := urlFetchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	if article, err := readability.FromReader(strings.NewReader(html), parsedURL); err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(html, " ")), nil
}
