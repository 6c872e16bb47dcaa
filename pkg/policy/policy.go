// Package policy maps inbound requests to a cache policy and namespace role.
//
// Classification is ordered first-match over a rule list: the first pattern
// that matches the request URL wins, regardless of specificity. Rule authors
// must therefore order rules most-specific-first. Non-GET requests and
// non-HTTP(S) URLs are skipped entirely; unmatched GETs default to
// network-first against the dynamic role.
package policy

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/shopfront/offline-gateway/pkg/cache"
)

// Policy identifies one of the three read strategies.
type Policy string

const (
	// PolicyNetworkFirst tries the network, falling back to cache.
	PolicyNetworkFirst Policy = "network-first"

	// PolicyCacheFirst serves fresh cached entries without a network call.
	PolicyCacheFirst Policy = "cache-first"

	// PolicyStaleWhileRevalidate serves cache immediately and refreshes in
	// the background.
	PolicyStaleWhileRevalidate Policy = "stale-while-revalidate"
)

// Rule binds a URL pattern to a policy and a namespace role.
type Rule struct {
	Pattern string     `yaml:"pattern"`
	Policy  Policy     `yaml:"policy"`
	Role    cache.Role `yaml:"role"`

	re *regexp.Regexp
}

// Decision is the classifier's answer for one request.
type Decision struct {
	Policy Policy
	Role   cache.Role
}

// Classifier evaluates rules in order against request URLs.
type Classifier struct {
	rules []Rule
}

// NewClassifier compiles the rule patterns and returns a classifier.
// Rule order is preserved: first match wins.
func NewClassifier(rules []Rule) (*Classifier, error) {
	compiled := make([]Rule, len(rules))
	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if err := validatePolicy(rule.Policy); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Pattern, err)
		}
		if rule.Role == "" {
			return nil, fmt.Errorf("rule %d (%s): role is required", i, rule.Pattern)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): compile pattern: %w", i, rule.Pattern, err)
		}
		compiled[i] = rule
		compiled[i].re = re
	}
	return &Classifier{rules: compiled}, nil
}

// Classify returns the decision for a request, or ok=false when the request
// must be passed through untouched (non-GET or non-HTTP scheme).
// The decision depends only on method and URL, so it is deterministic.
func (c *Classifier) Classify(method string, u *url.URL) (Decision, bool) {
	if method != http.MethodGet {
		return Decision{}, false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return Decision{}, false
	}

	target := u.Path
	if u.RawQuery != "" {
		target = u.Path + "?" + u.RawQuery
	}

	for _, rule := range c.rules {
		if rule.re.MatchString(target) {
			ClassifierDecisions.WithLabelValues(string(rule.Policy), string(rule.Role)).Inc()
			return Decision{Policy: rule.Policy, Role: rule.Role}, true
		}
	}

	// Unmatched GETs default to network-first against the dynamic role.
	ClassifierDecisions.WithLabelValues(string(PolicyNetworkFirst), string(cache.RoleDynamic)).Inc()
	return Decision{Policy: PolicyNetworkFirst, Role: cache.RoleDynamic}, true
}

// DefaultRules returns the built-in rule set for a product-catalog client.
// Ordered most-specific-first; the catch-all default is implicit.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\.(?:js|css|html)$`, Policy: PolicyStaleWhileRevalidate, Role: cache.RoleStatic},
		{Pattern: `\.(?:png|jpe?g|gif|webp|svg|ico)$`, Policy: PolicyCacheFirst, Role: cache.RoleImages},
		{Pattern: `\.(?:woff2?|ttf|otf|eot)$`, Policy: PolicyCacheFirst, Role: cache.RoleFonts},
		{Pattern: `^/api/`, Policy: PolicyNetworkFirst, Role: cache.RoleAPI},
	}
}

func validatePolicy(p Policy) error {
	switch p {
	case PolicyNetworkFirst, PolicyCacheFirst, PolicyStaleWhileRevalidate:
		return nil
	default:
		return fmt.Errorf("unknown policy %q", p)
	}
}
