package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-crmwatch/core"
	"github.com/goliatone/go-crmwatch/transport"
)

const (
	defaultExpiresInSeconds         = 3600
	maxTokenResponseBodyBytes int64 = 1 << 20
)

type tokenEndpointPayload struct {
	AccessToken      string
	RefreshToken     string
	APIDomain        string
	TokenType        string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

// tokenClient exchanges a refresh token at the accounts token endpoint and
// classifies every failure into the error taxonomy.
type tokenClient struct {
	adapter      *transport.RESTAdapter
	tokenURL     string
	clientID     string
	clientSecret string
}

func (c tokenClient) exchange(ctx context.Context, refreshToken string) (tokenEndpointPayload, error) {
	if strings.TrimSpace(c.clientID) == "" {
		return tokenEndpointPayload{}, core.ConfigError("oauth client_id is not configured", map[string]any{"missing": "client_id", "env": "Z_CLIENT_ID"})
	}
	if strings.TrimSpace(c.clientSecret) == "" {
		return tokenEndpointPayload{}, core.ConfigError("oauth client_secret is not configured", map[string]any{"missing": "client_secret", "env": "Z_CLIENT_SECRET"})
	}
	if strings.TrimSpace(refreshToken) == "" {
		return tokenEndpointPayload{}, core.ConfigError("credential has no refresh_token", map[string]any{"missing": "refresh_token"})
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", strings.TrimSpace(c.clientID))
	form.Set("client_secret", strings.TrimSpace(c.clientSecret))
	form.Set("refresh_token", strings.TrimSpace(refreshToken))
	body, headers := transport.FormBody(form)

	response, err := c.adapter.Do(ctx, transport.Request{
		Method:               http.MethodPost,
		URL:                  c.tokenURL,
		Headers:              headers,
		Body:                 body,
		MaxResponseBodyBytes: maxTokenResponseBodyBytes,
	})
	if err != nil {
		if transport.IsInvalidRequest(err) {
			return tokenEndpointPayload{}, core.WrapConfigError(err, "oauth token url is invalid", map[string]any{"token_url": c.tokenURL})
		}
		return tokenEndpointPayload{}, core.TransientAuthError(err, "token endpoint unreachable", map[string]any{
			"token_url": c.tokenURL,
			"timeout":   transport.IsTimeout(err),
		})
	}

	status := response.StatusCode
	payload, parseErr := parseTokenPayload(response.Body)
	metadata := map[string]any{"status": status}
	if payload.ErrorCode != "" {
		metadata["vendor_error"] = payload.ErrorCode
	}
	if payload.ErrorDescription != "" {
		metadata["vendor_error_description"] = payload.ErrorDescription
	}

	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return tokenEndpointPayload{}, core.TransientAuthError(nil, fmt.Sprintf("token endpoint returned %d", status), metadata)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		// Zoho answers a revoked or under-scoped refresh token (invalid_code,
		// invalid_client) with 400 or 401; retrying cannot succeed.
		return tokenEndpointPayload{}, core.AuthScopeError(fmt.Sprintf("token endpoint rejected the credential (%d): %s", status, describeTokenError(payload)), metadata)
	case parseErr != nil:
		return tokenEndpointPayload{}, core.TransientAuthError(parseErr, "decode token response", metadata)
	case payload.ErrorCode != "":
		return tokenEndpointPayload{}, core.AuthScopeError("token endpoint rejected the credential: "+describeTokenError(payload), metadata)
	case payload.AccessToken == "":
		return tokenEndpointPayload{}, core.AuthScopeError("token endpoint response missing access_token", metadata)
	}
	return payload, nil
}

func describeTokenError(payload tokenEndpointPayload) string {
	if payload.ErrorDescription != "" {
		return payload.ErrorDescription
	}
	if payload.ErrorCode != "" {
		return payload.ErrorCode
	}
	return "unknown error"
}

func parseTokenPayload(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn := readAnyInt64(decoded["expires_in"])
	if expiresIn <= 0 {
		expiresIn = readAnyInt64(decoded["expires_in_sec"])
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresInSeconds
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		APIDomain:        readAnyString(decoded["api_domain"]),
		TokenType:        readAnyString(decoded["token_type"]),
		ExpiresIn:        expiresIn,
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case float64:
		return int64(typed)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
