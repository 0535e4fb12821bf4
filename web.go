package yae

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

// IsPublicURL reports whether rawURL is safe to fetch on behalf of an
// agent: http/https scheme and a host that cannot resolve to internal
// infrastructure. Loopback, RFC 1918, link-local, CGNAT, 0.0.0.0/8, the
// cloud metadata address, and their IPv6 counterparts are all rejected.
func IsPublicURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !isPrivateIP(ip)
	}
	// Hostname, not a literal IP. DNS rebinding is out of scope here; the
	// guard rejects only literal internal addresses.
	return true
}

// isPrivateIP reports whether ip belongs to a non-public range.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 0: // 0.0.0.0/8
			return true
		case v4[0] == 10: // 10.0.0.0/8
			return true
		case v4[0] == 127: // loopback
			return true
		case v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127: // 100.64.0.0/10 CGNAT
			return true
		case v4[0] == 169 && v4[1] == 254: // link-local, incl. 169.254.169.254
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31: // 172.16.0.0/12
			return true
		case v4[0] == 192 && v4[1] == 168: // 192.168.0.0/16
			return true
		}
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	// fc00::/7 unique local
	if len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}
	return false
}

// WebClient implements WebAdapter: readable-content fetch plus a web search
// backed by the Brave search API.
type WebClient struct {
	client      *http.Client
	braveAPIKey string
	userAgent   string
	logger      *slog.Logger
}

// WebOption configures a WebClient.
type WebOption func(*WebClient)

// WithBraveAPIKey enables web_search via the Brave search API.
func WithBraveAPIKey(key string) WebOption {
	return func(w *WebClient) { w.braveAPIKey = key }
}

// WithWebLogger sets the structured logger.
func WithWebLogger(l *slog.Logger) WebOption {
	return func(w *WebClient) { w.logger = l }
}

// NewWebClient creates a WebClient with a 15-second HTTP timeout.
func NewWebClient(opts ...WebOption) *WebClient {
	w := &WebClient{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; YaeBot/1.0)",
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Fetch downloads a URL and extracts readable text. The caller must have
// passed the URL through IsPublicURL; Fetch re-checks as a second line.
func (w *WebClient) Fetch(ctx context.Context, rawURL string) (string, error) {
	if !IsPublicURL(rawURL) {
		return "", &ErrUnauthorized{Reason: fmt.Sprintf("blocked non-public URL: %s", rawURL)}
	}
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &ErrUpstream{Provider: "web", Status: resp.StatusCode, Message: "fetch " + rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	// Try readability extraction
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	// Fallback: simple tag stripping
	return stripHTML(html), nil
}

// Search performs a web search. depth selects the result count: "deep"
// fetches 12 results, anything else 6.
func (w *WebClient) Search(ctx context.Context, query, depth string) (string, error) {
	if w.braveAPIKey == "" {
		return "", &ErrUpstream{Provider: "web", Message: "search is not configured"}
	}
	count := 6
	if depth == "deep" {
		count = 12
	}

	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.braveAPIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &ErrUpstream{Provider: "web", Status: resp.StatusCode, Message: string(body)}
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("search parse error: %w", err)
	}
	if len(data.Web.Results) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var sb strings.Builder
	for i, r := range data.Web.Results {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	return strings.TrimSpace(sb.String()), nil
}

// stripHTML removes tags and collapses whitespace. Crude, but only the
// fallback path when readability fails.
func stripHTML(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

var _ WebAdapter = (*WebClient)(nil)
