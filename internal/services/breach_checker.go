package services

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	hibpPrefixLength = 5
	hibpMaxBodyBytes = 1 << 20
)

// HIBPBreachChecker queries the Pwned Passwords range API. Only the first five
// hex characters of the SHA-1 digest leave the process; the suffix is matched
// locally.
type HIBPBreachChecker struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHIBPBreachChecker creates a breach checker against baseURL, e.g.
// https://api.pwnedpasswords.com
func NewHIBPBreachChecker(baseURL string, timeout time.Duration, logger *slog.Logger) *HIBPBreachChecker {
	return &HIBPBreachChecker{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// CountBreaches returns how many times password appears in the corpus. Any
// transport error, timeout or non-200 response yields 0.
func (c *HIBPBreachChecker) CountBreaches(ctx context.Context, password string) int {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:hibpPrefixLength], digest[hibpPrefixLength:]

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
	if err != nil {
		c.logger.Warn("breach check skipped", slog.Any("error", err))
		return 0
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", "warden-breach-check")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("breach check unavailable", slog.Any("error", err))
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("breach check unavailable", slog.Int("status", resp.StatusCode))
		return 0
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, hibpMaxBodyBytes))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, count, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(candidate, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return 0
		}
		return n
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("breach check response unreadable", slog.Any("error", err))
	}

	return 0
}

// DisabledBreachChecker is used when breach checks are turned off
type DisabledBreachChecker struct{}

func (DisabledBreachChecker) CountBreaches(context.Context, string) int {
	return 0
}

// isBreached applies the rejection threshold. A threshold below one disables
// rejection.
func isBreached(count, threshold int) bool {
	return threshold > 0 && count >= threshold
}
