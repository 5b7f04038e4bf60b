package provider

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// FromGoogleAPI wraps an error returned by a Google API client call,
// classifying it by HTTP status. A token that can no longer be refreshed or
// saved is an auth failure.
func FromGoogleAPI(providerName, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrCredentials) {
		return NewError(providerName, KindAuth, op, err)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.Response != nil && tokenErr.Response.StatusCode >= 500 {
			return NewError(providerName, KindServer, op, err)
		}
		return NewError(providerName, KindAuth, op, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return NewError(providerName, KindServer, op, err)
	}

	switch apiErr.Code {
	case http.StatusBadRequest:
		if cellLimitMessage(apiErr) {
			return NewError(providerName, KindCellLimit, op, err)
		}
		return NewError(providerName, KindInvalid, op, err)
	case http.StatusUnauthorized:
		return NewError(providerName, KindAuth, op, err)
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
			return NewError(providerName, KindRateLimit, op, err)
		}
		return NewError(providerName, KindAuth, op, err)
	case http.StatusNotFound:
		return NewError(providerName, KindNotFound, op, err)
	case http.StatusTooManyRequests:
		return NewError(providerName, KindRateLimit, op, err)
	}

	if apiErr.Code >= 500 {
		return NewError(providerName, KindServer, op, err)
	}
	return NewError(providerName, KindUnknown, op, err)
}

// Sheets reports "Your input contains more than the maximum of 50000
// characters in a single cell."
func cellLimitMessage(apiErr *googleapi.Error) bool {
	msg := strings.ToLower(apiErr.Message + " " + apiErr.Body)
	return strings.Contains(msg, "50000 characters") || strings.Contains(msg, "in a single cell")
}
