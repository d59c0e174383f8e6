package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// ParsePage reads page and limit query parameters. limit falls back to
// defaultLimit and may not exceed maxLimit.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) (shared.PageRequest, error) {
	page := shared.PageRequest{Page: 1, Limit: defaultLimit}
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return page, fmt.Errorf("%w: page must be a positive integer", ErrValidation)
		}
		page.Page = n
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return page, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, maxLimit)
		}
		page.Limit = n
	}
	return page, nil
}
