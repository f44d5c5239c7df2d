package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"
)

var ErrURLNotAllowed = errors.New("url not allowed")

type ScraperConfig struct {
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	UserAgent      string
	MaxBodyBytes   int64
	// AllowPrivate permits hosts on loopback, private and link-local
	// networks. Off by default since URLs come from users.
	AllowPrivate bool
	Client       *http.Client
}

// Page is the readable text of one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "recall/1.0"
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 10 << 20
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
		if !config.AllowPrivate {
			client.Transport = publicOnlyTransport()
		}
	}

	return &Scraper{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}
	if parsedURL.Host == "" {
		return false
	}
	if !s.config.AllowPrivate && !isPublicHost(parsedURL.Hostname()) {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// isPublicHost rejects literal addresses and names that are internal
// without a DNS lookup. Resolved names are checked again at dial time.
func isPublicHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return isPublicIP(ip)
	}
	return true
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

// publicOnlyTransport refuses connections to non-public addresses after
// DNS resolution, which also covers redirects.
func publicOnlyTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || !isPublicIP(ip) {
				return fmt.Errorf("%w: address %s is not public", ErrURLNotAllowed, host)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return transport
}

func (s *Scraper) cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return s.cleanContent(content)
}

// Fetch downloads one page and returns its readable text. Readability
// extraction is tried first, then the main-content selectors.
func (s *Scraper) Fetch(ctx context.Context, urlStr string) (Page, error) {
	if !s.shouldProcessURL(urlStr) {
		return Page{}, fmt.Errorf("%w: %s", ErrURLNotAllowed, urlStr)
	}
	pageURL, _ := url.Parse(urlStr)

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("failed to read %s: %w", urlStr, err)
	}
	html := string(body)

	page := Page{URL: urlStr}
	if article, err := readability.FromReader(strings.NewReader(html), pageURL); err == nil {
		page.Title = strings.TrimSpace(article.Title)
		page.Text = strings.TrimSpace(article.TextContent)
	}

	if page.Text == "" || page.Title == "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return Page{}, err
		}
		if page.Title == "" {
			page.Title = strings.TrimSpace(doc.Find("title").Text())
		}
		if page.Text == "" {
			page.Text = s.extractMainContent(doc)
		}
	}

	return page, nil
}
