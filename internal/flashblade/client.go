package flashblade

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	defaultAPIVersion = "1.8"

	apiTokenHeader  = "api-token"
	authTokenHeader = "x-auth-token"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string

	mu           sync.Mutex
	sessionToken string
}

type Option func(*Client)

// WithAPIVersion selects the REST version used for resource paths.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. Arrays
// usually ship with self-signed management certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: skip} //nolint:gosec
		c.httpClient = &http.Client{Transport: transport}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient returns a client for the management endpoint. A bare host is
// addressed over https.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	baseURL, err := normalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiVersion: defaultAPIVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("management endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("management endpoint %q must be a host or valid http(s) URL", endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("management endpoint %q must use http or https", endpoint)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// Login exchanges the API token for a session token.
func (c *Client) Login(ctx context.Context, apiToken string) error {
	if strings.TrimSpace(apiToken) == "" {
		return fmt.Errorf("%w: api token is required", ErrAuthentication)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set(apiTokenHeader, apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %w", ErrAuthentication, decodeError(resp))
	}

	session := resp.Header.Get(authTokenHeader)
	if session == "" {
		return fmt.Errorf("%w: login response carried no %s header", ErrAuthentication, authTokenHeader)
	}

	c.mu.Lock()
	c.sessionToken = session
	c.mu.Unlock()
	return nil
}

// Logout ends the session. It is a no-op without one.
func (c *Client) Logout(ctx context.Context) error {
	token := c.session()
	if token == "" {
		return nil
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/logout", nil, nil)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.mu.Lock()
	c.sessionToken = ""
	c.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout: %w", decodeError(resp))
	}
	return nil
}

func (c *Client) CreateObjectStoreAccount(ctx context.Context, name string) (ObjectStoreAccount, error) {
	params := url.Values{}
	params.Add("names", name)

	items, err := doJSON[ObjectStoreAccount](ctx, c, http.MethodPost, c.resourcePath("object-store-accounts"), params, nil)
	if err != nil {
		return ObjectStoreAccount{}, fmt.Errorf("create object store account %q: %w", name, err)
	}
	return firstOr(items, ObjectStoreAccount{Name: name}), nil
}

func (c *Client) CreateObjectStoreUser(ctx context.Context, name string) (ObjectStoreUser, error) {
	params := url.Values{}
	params.Add("names", name)

	items, err := doJSON[ObjectStoreUser](ctx, c, http.MethodPost, c.resourcePath("object-store-users"), params, nil)
	if err != nil {
		return ObjectStoreUser{}, fmt.Errorf("create object store user %q: %w", name, err)
	}
	return firstOr(items, ObjectStoreUser{Name: name}), nil
}

func (c *Client) ListObjectStoreAccessKeys(ctx context.Context, filter string) ([]ObjectStoreAccessKey, error) {
	params := url.Values{}
	if filter != "" {
		params.Add("filter", filter)
	}

	items, err := doJSON[ObjectStoreAccessKey](ctx, c, http.MethodGet, c.resourcePath("object-store-access-keys"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("list object store access keys: %w", err)
	}
	return items, nil
}

// CreateObjectStoreAccessKey creates a key pair for user. The secret is only
// returned by this call.
func (c *Client) CreateObjectStoreAccessKey(ctx context.Context, user string) (ObjectStoreAccessKey, error) {
	request := CreateAccessKeyRequest{User: Reference{Name: user}}

	items, err := doJSON[ObjectStoreAccessKey](ctx, c, http.MethodPost, c.resourcePath("object-store-access-keys"), nil, request)
	if err != nil {
		return ObjectStoreAccessKey{}, fmt.Errorf("create access key for %q: %w", user, err)
	}
	if len(items) == 0 {
		return ObjectStoreAccessKey{}, fmt.Errorf("create access key for %q: empty response", user)
	}
	key := items[0]
	if key.Name == "" || key.SecretAccessKey == "" {
		return ObjectStoreAccessKey{}, fmt.Errorf("create access key for %q: response is missing key id or secret", user)
	}
	return key, nil
}

func (c *Client) ListNetworkInterfaces(ctx context.Context, filter string) ([]NetworkInterface, error) {
	params := url.Values{}
	if filter != "" {
		params.Add("filter", filter)
	}

	items, err := doJSON[NetworkInterface](ctx, c, http.MethodGet, c.resourcePath("network-interfaces"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return items, nil
}

// CreateBucket creates a bucket owned by account.
func (c *Client) CreateBucket(ctx context.Context, name string, account string) (Bucket, error) {
	params := url.Values{}
	params.Add("names", name)
	request := CreateBucketRequest{Account: Reference{Name: account}}

	items, err := doJSON[Bucket](ctx, c, http.MethodPost, c.resourcePath("buckets"), params, request)
	if err != nil {
		return Bucket{}, fmt.Errorf("create bucket %q: %w", name, err)
	}
	return firstOr(items, Bucket{Name: name, Account: &Reference{Name: account}}), nil
}

// UserFilter selects access keys owned by an account/user.
func UserFilter(accountUser string) string {
	return fmt.Sprintf("user.name='%s'", accountUser)
}

// ServiceFilter selects network interfaces serving role.
func ServiceFilter(role string) string {
	return fmt.Sprintf("services='%s'", role)
}

func (c *Client) resourcePath(resource string) string {
	return "/api/" + c.apiVersion + "/" + resource
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *Client) newRequest(ctx context.Context,
	method string,
	path string,
	queryParams url.Values,
	body io.Reader,
) (*http.Request, error) {
	fullURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("constructing endpoint path: %w", err)
	}

	requestURL, err := url.Parse(fullURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if len(queryParams) > 0 {
		requestURL.RawQuery = queryParams.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context,
	method string,
	path string,
	queryParams url.Values,
	body io.Reader,
) (*http.Response, error) {
	token := c.session()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	req, err := c.newRequest(ctx, method, path, queryParams, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(authTokenHeader, token)

	return c.httpClient.Do(req)
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, params url.Values, request any) ([]T, error) {
	var body io.Reader
	if request != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(request); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = &buf
	}

	resp, err := c.doRequest(ctx, method, path, params, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	result, err := unmarshalBody[listResponse[T]](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	return result.Items, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(resp.Body)
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		for _, item := range parsed.Errors {
			msg := item.Message
			if item.Context != "" {
				msg = item.Context + ": " + msg
			}
			apiErr.Messages = append(apiErr.Messages, msg)
		}
	} else if text := strings.TrimSpace(string(body)); text != "" {
		apiErr.Messages = []string{text}
	}
	return apiErr
}

func unmarshalBody[T any](body io.Reader) (T, error) {
	var result T
	err := json.NewDecoder(body).Decode(&result)
	return result, err
}

func firstOr[T any](items []T, fallback T) T {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}
