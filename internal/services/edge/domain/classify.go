package domain

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

// ResourceClass is the declared or inferred kind of a requested resource.
type ResourceClass string

const (
	ClassDocument ResourceClass = "document"
	ClassFont     ResourceClass = "font"
	ClassImage    ResourceClass = "image"
	ClassScript   ResourceClass = "script"
	ClassStyle    ResourceClass = "style"
	ClassOther    ResourceClass = "other"
)

// DefaultFontHosts are the hosted font providers the site loads from.
var DefaultFontHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com"}

var extensionClasses = map[string]ResourceClass{
	".woff":  ClassFont,
	".woff2": ClassFont,
	".ttf":   ClassFont,
	".otf":   ClassFont,
	".eot":   ClassFont,
	".png":   ClassImage,
	".jpg":   ClassImage,
	".jpeg":  ClassImage,
	".gif":   ClassImage,
	".webp":  ClassImage,
	".avif":  ClassImage,
	".svg":   ClassImage,
	".ico":   ClassImage,
	".js":    ClassScript,
	".mjs":   ClassScript,
	".css":   ClassStyle,
	".html":  ClassDocument,
	".htm":   ClassDocument,
}

var destinationClasses = map[string]ResourceClass{
	"document":      ClassDocument,
	"iframe":        ClassDocument,
	"frame":         ClassDocument,
	"font":          ClassFont,
	"image":         ClassImage,
	"script":        ClassScript,
	"worker":        ClassScript,
	"sharedworker":  ClassScript,
	"serviceworker": ClassScript,
	"style":         ClassStyle,
}

// Classifier answers the questions the router's policy chain asks of a
// request.
type Classifier struct {
	origin    origin
	apiHosts  []string
	fontHosts []string
}

type origin struct {
	scheme string
	host   string
	port   string
}

// NewClassifier builds a classifier for the page origin. apiHosts and
// fontHosts are matched as hostname substrings; empty entries are ignored.
func NewClassifier(pageOrigin *url.URL, apiHosts, fontHosts []string) Classifier {
	return Classifier{
		origin:    originOf(pageOrigin),
		apiHosts:  normalizeHosts(apiHosts),
		fontHosts: normalizeHosts(fontHosts),
	}
}

// SameOrigin reports whether u shares scheme, host and port with the page
// origin. A relative URL is same-origin.
func (c Classifier) SameOrigin(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return true
	}
	return originOf(u) == c.origin
}

// IsAPI reports whether u addresses the backend REST host.
func (c Classifier) IsAPI(u *url.URL) bool {
	return hostContainsAny(u, c.apiHosts)
}

// IsFont reports whether r requests a font, by declared destination, hosted
// font provider or file extension.
func (c Classifier) IsFont(r *http.Request) bool {
	if ClassOf(r) == ClassFont {
		return true
	}
	return hostContainsAny(r.URL, c.fontHosts)
}

// ClassOf returns the resource class of r. Sec-Fetch-Dest wins; otherwise the
// URL path extension decides.
func ClassOf(r *http.Request) ResourceClass {
	if dest := strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest"))); dest != "" {
		if class, ok := destinationClasses[dest]; ok {
			return class
		}
	}
	if r.URL == nil {
		return ClassOther
	}
	if class, ok := extensionClasses[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return class
	}
	return ClassOther
}

// IsNavigation reports whether r is a top-level page navigation.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if r.Method != http.MethodGet {
		return false
	}
	return prefersHTML(r.Header.Get("Accept"))
}

func prefersHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "text/html", "application/xhtml+xml":
			return true
		}
	}
	return false
}

func originOf(u *url.URL) origin {
	if u == nil {
		return origin{}
	}
	scheme := strings.ToLower(u.Scheme)
	host := normalizeHost(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http", "ws":
			port = "80"
		case "https", "wss":
			port = "443"
		}
	}
	return origin{scheme: scheme, host: host, port: port}
}

func hostContainsAny(u *url.URL, hosts []string) bool {
	if u == nil || len(hosts) == 0 {
		return false
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return false
	}
	for _, candidate := range hosts {
		if strings.Contains(host, candidate) {
			return true
		}
	}
	return false
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		out = append(out, normalizeHost(host))
	}
	return out
}

func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
