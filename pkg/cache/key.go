package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// RequestKey generates a deterministic cache key string for a request URL.
// Format: path:query1=val1:query2=val2 with query parameters sorted, so the
// same logical request always maps to the same entry.
//
// Example:
//
//	/api/products:category=phones:page=2
func RequestKey(u *url.URL) string {
	parts := []string{u.Path}

	query := u.Query()
	if len(query) > 0 {
		queryKeys := make([]string, 0, len(query))
		for key := range query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
