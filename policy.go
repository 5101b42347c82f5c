package superagent

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// defaultBlockedPaths are always denied unless the policy overrides them.
var defaultBlockedPaths = []string{"/etc", "/sys", "/proc"}

// defaultMaxFileSizeMB caps file reads and ingestion.
const defaultMaxFileSizeMB = 10

// Policy enforces path, domain, and size boundaries for file tools, the web
// tool, ingestion, and diff application. Every check returns a
// PermissionError on denial. Safe for concurrent use after construction.
type Policy struct {
	allowedPaths   []string
	blockedPaths   []string
	allowedDomains []string
	maxFileSizeMB  float64
	logger         *slog.Logger
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// AllowPaths permits writes and execution under the given directories.
// An empty allow list permits writes anywhere not blocked.
func AllowPaths(paths ...string) PolicyOption {
	return func(p *Policy) {
		for _, path := range paths {
			p.allowedPaths = append(p.allowedPaths, cleanAbs(path))
		}
	}
}

// BlockPaths denies all access under the given directories. These are
// appended to the built-in blocked set.
func BlockPaths(paths ...string) PolicyOption {
	return func(p *Policy) {
		for _, path := range paths {
			p.blockedPaths = append(p.blockedPaths, cleanAbs(path))
		}
	}
}

// AllowDomains permits network access to the given domains and their
// subdomains. "*" permits every domain. An empty list denies all.
func AllowDomains(domains ...string) PolicyOption {
	return func(p *Policy) {
		p.allowedDomains = append(p.allowedDomains, domains...)
	}
}

// MaxFileSizeMB caps readable and ingestible file size (default: 10).
func MaxFileSizeMB(mb float64) PolicyOption {
	return func(p *Policy) { p.maxFileSizeMB = mb }
}

// PolicyLogger sets the structured logger.
func PolicyLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy creates a policy with the built-in blocked paths and the default
// size cap.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		blockedPaths:  append([]string(nil), defaultBlockedPaths...),
		maxFileSizeMB: defaultMaxFileSizeMB,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// CheckPath validates access to path for op ("read", "write", "execute").
// Blocked paths deny every op; writes and execution additionally require an
// allowed prefix when an allow list is configured.
func (p *Policy) CheckPath(op, path string) error {
	abs := cleanAbs(path)
	for _, blocked := range p.blockedPaths {
		if underPath(abs, blocked) {
			p.logger.Warn("access denied to blocked path", "op", op, "path", abs)
			return &PermissionError{Op: op, Target: abs, Reason: "path is blocked"}
		}
	}
	if (op == "write" || op == "execute") && len(p.allowedPaths) > 0 {
		for _, allowed := range p.allowedPaths {
			if underPath(abs, allowed) {
				return nil
			}
		}
		p.logger.Warn("access denied outside allowed paths", "op", op, "path", abs)
		return &PermissionError{Op: op, Target: abs, Reason: "path is outside allowed paths"}
	}
	return nil
}

// CheckDomain validates network access to domain. A wildcard entry permits
// everything; otherwise the domain must equal or be a subdomain of an
// allowed entry.
func (p *Policy) CheckDomain(domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, allowed := range p.allowedDomains {
		if allowed == "*" {
			return nil
		}
		allowed = strings.ToLower(allowed)
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return nil
		}
	}
	p.logger.Warn("network access denied", "domain", domain)
	return &PermissionError{Op: "network", Target: domain, Reason: "domain is not allowed"}
}

// CheckSize validates a byte count against the file size cap.
func (p *Policy) CheckSize(path string, sizeBytes int64) error {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	if sizeMB > p.maxFileSizeMB {
		p.logger.Warn("file exceeds size cap", "path", path, "size_mb", sizeMB)
		return &PermissionError{
			Op:     "read",
			Target: path,
			Reason: fmt.Sprintf("file exceeds maximum size: %.2fMB > %.0fMB", sizeMB, p.maxFileSizeMB),
		}
	}
	return nil
}

// MaxFileBytes returns the size cap in bytes.
func (p *Policy) MaxFileBytes() int64 {
	return int64(p.maxFileSizeMB * 1024 * 1024)
}

func cleanAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// underPath reports whether path equals dir or lies beneath it.
func underPath(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
