package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"formsight/internal/model"
)

// QueryClient wraps the remote query service's HTTP API: the lightweight
// session id list used for change detection and the full single-session
// detail fetch.
type QueryClient struct {
	baseURL    string
	jwtSecret  []byte
	tokenTTL   time.Duration
	httpClient *http.Client
	maxRetries int
}

// NewQueryClient creates a new query service client. Requests carry a
// short-lived HS256 service token minted from secret.
func NewQueryClient(baseURL, secret string) *QueryClient {
	if secret == "" {
		log.Println("Warning: query service JWT secret not set")
	}

	return &QueryClient{
		baseURL:   baseURL,
		jwtSecret: []byte(secret),
		tokenTTL:  2 * time.Minute,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 5,
	}
}

// serviceToken mints a fresh bearer token for one request.
func (c *QueryClient) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "formsight",
		Subject:   "analysis-cache",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}

// doRequest performs a GET with retry on rate limiting and server errors
func (c *QueryClient) doRequest(ctx context.Context, path string) ([]byte, error) {
	requestURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[Query Client] Retry attempt %d/%d for GET %s", attempt, c.maxRetries, path)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		token, err := c.serviceToken()
		if err != nil {
			return nil, fmt.Errorf("failed to mint service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Query Client] Warning: HTTP request failed (attempt %d): %v", attempt+1, err)
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Printf("[Query Client] Warning: status %d for GET %s, retry %d/%d in %v",
				resp.StatusCode, path, attempt+1, c.maxRetries, backoff)
			lastErr = fmt.Errorf("query service returned %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("query service error %d: %s", resp.StatusCode, string(respBody))
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetUserSessionIDs fetches the lightweight session stub list for a
// questionnaire, used to diff against locally known sessions.
func (c *QueryClient) GetUserSessionIDs(ctx context.Context, questionnaireID string) (*model.SessionIDList, error) {
	path := fmt.Sprintf("/v1/questionnaires/%s/session-ids", url.PathEscape(questionnaireID))

	respBody, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	var list model.SessionIDList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("failed to parse session id list: %w", err)
	}
	return &list, nil
}

// GetSession fetches one session's full detail, answers included.
func (c *QueryClient) GetSession(ctx context.Context, sessionID string) (*model.SessionDetail, error) {
	path := fmt.Sprintf("/v1/sessions/%s", url.PathEscape(sessionID))

	respBody, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	var detail model.SessionDetail
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse session detail: %w", err)
	}
	return &detail, nil
}
