package intercept

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
)

type Category int

const (
	Unmatched Category = iota
	AppShell
	StaticAsset
	API
	Image
	Navigation
)

func (c Category) String() string {
	switch c {
	case AppShell:
		return "app-shell"
	case StaticAsset:
		return "static-asset"
	case API:
		return "api"
	case Image:
		return "image"
	case Navigation:
		return "navigation"
	default:
		return "unmatched"
	}
}

// Rules configure classification. Shell paths other than "/" also match
// anything below them.
type Rules struct {
	ShellPaths      []string `yaml:"shellPaths"`
	StaticPrefixes  []string `yaml:"staticPrefixes"`
	APIPatterns     []string `yaml:"apiPatterns"`
	ImageExtensions []string `yaml:"imageExtensions"`
}

// Request is the part of an outgoing request the classifier looks at.
type Request struct {
	Method      string
	URL         *url.URL
	Destination string
	Navigate    bool
}

// RequestFromHTTP reads the destination and navigation flag from the
// Sec-Fetch-Dest and Sec-Fetch-Mode headers.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		Method:      r.Method,
		URL:         r.URL,
		Destination: strings.ToLower(r.Header.Get("Sec-Fetch-Dest")),
		Navigate:    strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate"),
	}
}

// Classify assigns exactly one category using a fixed priority: shell, static,
// api, image, navigation.
func Classify(req Request, rules Rules) Category {
	if req.URL == nil {
		return Unmatched
	}
	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	for _, shell := range rules.ShellPaths {
		if matchesShell(p, shell) {
			return AppShell
		}
	}
	for _, prefix := range rules.StaticPrefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return StaticAsset
		}
	}
	full := req.URL.String()
	for _, pattern := range rules.APIPatterns {
		if pattern != "" && strings.Contains(full, pattern) {
			return API
		}
	}
	if req.Destination == "image" || hasImageExtension(p, rules.ImageExtensions) {
		return Image
	}
	if req.Navigate {
		return Navigation
	}
	return Unmatched
}

func matchesShell(p, shell string) bool {
	if shell == "" {
		return false
	}
	if p == shell {
		return true
	}
	if shell == "/" {
		return false
	}
	prefix := strings.TrimSuffix(shell, "/") + "/"
	return strings.HasPrefix(p, prefix)
}

func hasImageExtension(p string, extensions []string) bool {
	ext := path.Ext(p)
	if ext == "" {
		return false
	}
	// a Caser is stateful, so one per call
	fold := cases.Fold()
	ext = fold.String(ext)
	for _, candidate := range extensions {
		if fold.String(candidate) == ext {
			return true
		}
	}
	return false
}
