// Package shared provides small helpers used by adapters and the installer.
package shared

import (
	"fmt"
	"strings"
)

// HTTPStatusError describes a non-2xx response. The body is trimmed and
// left out when empty.
func HTTPStatusError(status int, url string, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("status=%d url=%s", status, url)
	}
	return fmt.Errorf("status=%d url=%s response=%s", status, url, body)
}
