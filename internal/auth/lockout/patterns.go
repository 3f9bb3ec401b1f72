package lockout

import (
	"regexp"
	"strings"
)

// DefaultHoneypots are decoy paths no legitimate client requests.
var DefaultHoneypots = []string{
	"/admin",
	"/administrator",
	"/wp-admin",
	"/phpmyadmin",
	"/console",
	"/.env",
	"/config.php",
	"/backup.sql",
}

// Honeypots matches request paths against the decoy set. A path matches
// when it equals a decoy or lies below one.
type Honeypots struct {
	paths map[string]struct{}
}

func NewHoneypots(paths []string) *Honeypots {
	if len(paths) == 0 {
		paths = DefaultHoneypots
	}
	h := &Honeypots{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		h.paths[normalizePath(p)] = struct{}{}
	}
	return h
}

func (h *Honeypots) Match(path string) bool {
	p := normalizePath(path)
	for p != "" {
		if _, ok := h.paths[p]; ok {
			return true
		}
		i := strings.LastIndexByte(p, '/')
		if i <= 0 {
			break
		}
		p = p[:i]
	}
	return false
}

// Paths returns the decoy paths.
func (h *Honeypots) Paths() []string {
	out := make([]string, 0, len(h.paths))
	for p := range h.paths {
		out = append(out, p)
	}
	return out
}

func normalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

var defaultUserAgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sqlmap`),
	regexp.MustCompile(`(?i)nikto`),
	regexp.MustCompile(`(?i)nmap`),
	regexp.MustCompile(`(?i)burp`),
	regexp.MustCompile(`(?i)zap`),
	regexp.MustCompile(`(?i)curl`),
	regexp.MustCompile(`(?i)wget`),
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)bot`),
	regexp.MustCompile(`(?i)scanner`),
	regexp.MustCompile(`(?i)hack`),
	regexp.MustCompile(`(?i)exploit`),
}

var defaultPathMarkers = []string{"..", "<script", "union"}

// PatternDetector flags user agents of known attack tools and paths carrying
// traversal or injection markers.
type PatternDetector struct {
	userAgents  []*regexp.Regexp
	pathMarkers []string
}

func NewPatternDetector() *PatternDetector {
	return &PatternDetector{
		userAgents:  defaultUserAgentPatterns,
		pathMarkers: defaultPathMarkers,
	}
}

// Match returns the reason the request looks hostile, or "" when it does not.
func (d *PatternDetector) Match(userAgent, path string) string {
	for _, re := range d.userAgents {
		if re.MatchString(userAgent) {
			return "Suspicious User Agent"
		}
	}
	lower := strings.ToLower(path)
	for _, marker := range d.pathMarkers {
		if strings.Contains(lower, marker) {
			return "Suspicious Path"
		}
	}
	return ""
}
