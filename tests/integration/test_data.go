//go:build integration

package integration

import (
	"fmt"
	"time"
)

// TestPassword satisfies the password policy
const TestPassword = "Correct-Horse-42!"

// TestEmail generates a unique address using the current time
func TestEmail(suffix string) string {
	return fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
}
