package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"moderngov/internal/cache"
	"moderngov/internal/config"
	"moderngov/internal/metrics"
	"moderngov/internal/page"
	"moderngov/internal/route"
)

const (
	versionHeader = "X-ModernGov-Version"
	cacheHeader   = "X-ModernGov-Cache"
)

type Proxy struct {
	mu           sync.RWMutex
	config       *config.Config
	reverseProxy *httputil.ReverseProxy
	routes       *route.Resolver
	cache        *cache.Cache
	metrics      *metrics.Metrics
	version      string
}

// requestInfo is what the response side needs to know about the incoming
// request. The outgoing request has been rewritten for the backend by then.
type requestInfo struct {
	template    bool
	options     page.Options
	incomingURL url.URL
}

type requestInfoKey struct{}

func New(cfg *config.Config, m *metrics.Metrics, version string) (*Proxy, error) {
	routes, err := route.NewResolver(cfg.RouteTable())
	if err != nil {
		return nil, fmt.Errorf("invalid routes: %w", err)
	}

	var cacheClient *cache.Cache
	if cfg.CacheEnabled() {
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache client: %w", err)
		}
	}

	p := &Proxy{
		config:  cfg,
		routes:  routes,
		cache:   cacheClient,
		metrics: m,
		version: version,
	}

	rp, err := p.newReverseProxy(cfg)
	if err != nil {
		return nil, err
	}
	p.reverseProxy = rp

	return p, nil
}

func (p *Proxy) UpdateConfig(cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	routes, err := route.NewResolver(cfg.RouteTable())
	if err != nil {
		return fmt.Errorf("invalid routes: %w", err)
	}

	// Update cache client if Redis configuration changed
	if p.config.Redis != cfg.Redis {
		var newCache *cache.Cache
		if cfg.CacheEnabled() {
			newCache, err = cache.New(cfg.Redis)
			if err != nil {
				return fmt.Errorf("failed to create new cache client: %w", err)
			}
		}
		if err := p.cache.Close(); err != nil {
			slog.Error("Failed to close previous cache client", "error", err)
		}
		p.cache = newCache
	}

	rp, err := p.newReverseProxy(cfg)
	if err != nil {
		return err
	}

	p.config = cfg
	p.routes = routes
	p.reverseProxy = rp

	return nil
}

// Close releases the cache connection.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Close()
}

func (p *Proxy) newReverseProxy(cfg *config.Config) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = time.Duration(cfg.RequestTimeout) * time.Second

	rp := httputil.NewSingleHostReverseProxy(target)
	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		// Template bodies may only come back in an encoding decodeBody
		// understands and the client also accepts. Without an explicit
		// header the transport negotiates gzip and decompresses itself.
		if info, ok := req.Context().Value(requestInfoKey{}).(requestInfo); ok && info.template {
			if acceptsGzip(req.Header.Values("Accept-Encoding")) {
				req.Header.Set("Accept-Encoding", "gzip")
			} else {
				req.Header.Del("Accept-Encoding")
			}
		}
	}
	rp.Transport = transport
	rp.ModifyResponse = p.modifyResponse

	return rp, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := requestInfo{
		template:    p.routes.IsTemplate(r.URL.Path),
		incomingURL: *r.URL,
	}
	info.options = page.OptionsFromQuery(r.URL.Query(), p.schemeAndHost(r))
	r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

	if info.template && r.Method == http.MethodGet && !p.hasDenylistedCookies(r) {
		if cached := p.cache.Get(r, info.options.SchemeAndHost); cached != nil {
			slog.Info("Serving cached response", "url", r.URL.Path)
			p.metrics.CacheLookups.WithLabelValues("hit").Inc()
			p.serveCachedResponse(w, cached)
			return
		}
		if p.cache != nil {
			p.metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	p.reverseProxy.ServeHTTP(w, r)
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	// Always add version header to any response that goes through the proxy
	resp.Header.Set(versionHeader, p.version)

	info, _ := resp.Request.Context().Value(requestInfoKey{}).(requestInfo)
	mimeType := extractMimeType(resp.Header.Get("Content-Type"))

	if !isHTMLMimeType(mimeType) {
		p.metrics.Passthrough.WithLabelValues("not_html").Inc()
		return nil
	}
	if !info.template {
		p.metrics.Passthrough.WithLabelValues("route").Inc()
		return nil
	}

	// Add cache MISS header for processed responses
	resp.Header.Set(cacheHeader, "MISS")

	transformed, err := p.processResponse(resp, info)
	if err != nil {
		slog.Error("Failed to process response", "error", err, "path", resp.Request.URL.Path)
		return err
	}

	if transformed && resp.Request.Method == http.MethodGet && p.shouldCache(resp) {
		p.cacheResponse(resp, info)
	}

	return nil
}

// processResponse replaces resp.Body with the transformed page. It reports
// false when the body was left as the backend sent it.
func (p *Proxy) processResponse(resp *http.Response, info requestInfo) (bool, error) {
	maxSize := int64(p.config.MaxResponseSizeMB * 1024 * 1024)

	raw, complete, err := readBody(resp, maxSize)
	if err != nil {
		return false, err
	}
	if !complete {
		slog.Info("Response too large, skipping processing", "size", len(raw), "max", maxSize)
		p.metrics.Passthrough.WithLabelValues("too_large").Inc()
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), resp.Body))
		return false, nil
	}

	restore := func() {
		setBody(resp, raw)
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		slog.Debug("Cannot decode response body, passing through", "error", err)
		p.metrics.Passthrough.WithLabelValues("encoding").Inc()
		restore()
		return false, nil
	}

	start := time.Now()
	result, err := page.Process(body, resp.Header.Get("Content-Type"), info.options)
	if err != nil {
		// The page is still served, just without rewriting.
		slog.Error("Failed to transform page", "error", err)
		p.metrics.TransformErrors.Inc()
		restore()
		return false, nil
	}
	mode := result.Mode.String()
	p.metrics.Transforms.WithLabelValues(mode).Inc()
	p.metrics.TransformDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	slog.Debug("Transformed page", "path", resp.Request.URL.Path, "mode", mode, "charset", result.SourceCharset)

	resp.Header.Del("Content-Encoding")
	if result.Transcoded() {
		resp.Header.Set("Content-Type", extractMimeType(resp.Header.Get("Content-Type"))+"; charset=utf-8")
	}
	setBody(resp, result.Body)

	return true, nil
}

func (p *Proxy) cacheResponse(resp *http.Response, info requestInfo) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Failed to read transformed body for caching", "error", err)
		return
	}
	setBody(resp, body)

	cacheEntry := &cache.Entry{
		Body:       body,
		Headers:    resp.Header.Clone(),
		StatusCode: resp.StatusCode,
		Timestamp:  time.Now(),
	}

	// Key on what the client asked for, not the rewritten backend request.
	keyReq := resp.Request.Clone(resp.Request.Context())
	incomingURL := info.incomingURL
	keyReq.URL = &incomingURL

	ttl := time.Duration(p.config.CacheTTL) * time.Second
	if err := p.cache.Set(keyReq, info.options.SchemeAndHost, cacheEntry, ttl); err != nil {
		slog.Error("Failed to cache response", "error", err)
	}
}

func (p *Proxy) shouldCache(resp *http.Response) bool {
	if p.cache == nil {
		return false
	}

	if resp.Header.Get("Set-Cookie") != "" {
		return false
	}

	if p.hasDenylistedCookies(resp.Request) {
		return false
	}

	return p.cache.IsCacheable(resp)
}

func (p *Proxy) hasDenylistedCookies(req *http.Request) bool {
	for _, denyName := range p.config.CookieDenylist {
		for _, cookie := range req.Cookies() {
			if cookie.Name == denyName {
				return true
			}
		}
	}
	return false
}

func (p *Proxy) serveCachedResponse(w http.ResponseWriter, entry *cache.Entry) {
	for key, values := range entry.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	w.Header().Set(versionHeader, p.version)
	w.Header().Set(cacheHeader, "HIT")

	w.WriteHeader(entry.StatusCode)
	if _, err := w.Write(entry.Body); err != nil {
		slog.Error("Failed to write cached response body", "error", err)
	}
}

// schemeAndHost is the origin clients used to reach the page: the
// configured public URL, else forwarding headers when trusted, else the
// request itself.
func (p *Proxy) schemeAndHost(r *http.Request) string {
	if p.config.PublicURL != "" {
		return p.config.PublicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if p.config.TrustForwardedHeaders {
		if proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); proto == "http" || proto == "https" {
			scheme = proto
		}
		if fwd := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
			host = fwd
		}
	}
	if h, port, err := net.SplitHostPort(host); err == nil && isDefaultPort(scheme, port) {
		host = h
		if strings.Contains(h, ":") {
			host = "[" + h + "]"
		}
	}

	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	if idx := strings.Index(v, ","); idx != -1 {
		v = v[:idx]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip with a
// non-zero quality.
func acceptsGzip(values []string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			coding = strings.ToLower(strings.TrimSpace(coding))
			if coding != "gzip" && coding != "x-gzip" && coding != "*" {
				continue
			}
			q, ok := strings.CutPrefix(strings.ReplaceAll(strings.ToLower(params), " ", ""), "q=")
			if !ok {
				return true
			}
			if f, err := strconv.ParseFloat(q, 64); err != nil || f > 0 {
				return true
			}
		}
	}
	return false
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func setBody(resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

func extractMimeType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.ToLower(strings.TrimSpace(contentType[:idx]))
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func isHTMLMimeType(mimeType string) bool {
	return mimeType == "text/html" || mimeType == "application/xhtml+xml"
}
