// Package apiclient is the sync server's HTTP API contract plus a
// net/http implementation: login, file listing, per-file multipart
// fetch, file create/patch/delete, and operation-history fetch.
package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"carya/internal/wire"
)

// Client is the contract the reconciler depends on for all server REST
// calls. This models the HTTP API client
// collaborator; HTTPClient below is one concrete implementation.
type Client interface {
	Login(ctx context.Context, name, password string) (token string, err error)
	ListFiles(ctx context.Context) ([]wire.FileMetadata, error)
	GetFile(ctx context.Context, id int64) (wire.File, error)
	CreateFile(ctx context.Context, path string, content []byte) (wire.FileMetadata, error)
	RenameFile(ctx context.Context, id int64, newPath string) error
	DeleteFile(ctx context.Context, id int64) error
	GetOperations(ctx context.Context, fileID int64, from int64) ([]wire.Operation, error)
}

// HTTPClient is a Client backed by net/http and JSON-over-HTTPS.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	log        *slog.Logger
}

// NewHTTPClient returns an HTTPClient targeting baseURL (e.g.
// "https://notes.example.com"). Call Login, or SetToken if a token was
// already persisted, before making authenticated calls.
func NewHTTPClient(baseURL string, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// SetToken installs a previously obtained bearer token, skipping Login.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// Token returns the currently installed bearer token.
func (c *HTTPClient) Token() string {
	return c.token
}

// TokenExpiry parses the installed JWT's "exp" claim, if present, without
// a round trip to the server. Returns the zero time if the token has no
// expiry claim.
func (c *HTTPClient) TokenExpiry() (time.Time, error) {
	if c.token == "" {
		return time.Time{}, fmt.Errorf("apiclient: no token installed")
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return time.Time{}, fmt.Errorf("apiclient: parse token: %w", err)
	}
	expValue, ok := claims["exp"]
	if !ok {
		return time.Time{}, nil
	}
	switch v := expValue.(type) {
	case float64:
		return time.Unix(int64(v), 0), nil
	default:
		return time.Time{}, fmt.Errorf("apiclient: unexpected exp claim type %T", expValue)
	}
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates against POST /v1/auth/login and installs the
// returned token for subsequent calls.
func (c *HTTPClient) Login(ctx context.Context, name, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Name: name, Password: password})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("apiclient: decode login response: %w", err)
	}
	c.token = out.Token
	return out.Token, nil
}

// ListFiles fetches GET /v1/api/file.
func (c *HTTPClient) ListFiles(ctx context.Context) ([]wire.FileMetadata, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/api/file", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []wire.FileMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("apiclient: decode file list: %w", err)
	}
	return out, nil
}

// GetFile fetches GET /v1/api/file/{id}, which responds multipart/mixed
// with a "metadata" JSON field and a "file" octet-stream part, base64
// decoded only when the part carries a Content-Transfer-Encoding:
// base64 header.
func (c *HTTPClient) GetFile(ctx context.Context, id int64) (wire.File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/api/file/%d", id), nil)
	if err != nil {
		return wire.File{}, err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return wire.File{}, err
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return wire.File{}, fmt.Errorf("apiclient: parse content-type: %w", err)
	}
	if mediaType != "multipart/mixed" {
		return wire.File{}, fmt.Errorf("apiclient: unexpected content-type %q", mediaType)
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	return decodeFileParts(reader, id)
}

func decodeFileParts(reader *multipart.Reader, id int64) (wire.File, error) {
	var meta wire.FileMetadata
	var content []byte
	var haveMeta, haveContent bool

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return wire.File{}, fmt.Errorf("apiclient: read multipart: %w", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return wire.File{}, fmt.Errorf("apiclient: read part %q: %w", part.FormName(), err)
		}

		switch part.FormName() {
		case "metadata":
			if err := json.Unmarshal(data, &meta); err != nil {
				return wire.File{}, fmt.Errorf("apiclient: decode metadata part: %w", err)
			}
			haveMeta = true
		case "file":
			if isBase64Encoded(part.Header) {
				decoded, err := base64.StdEncoding.DecodeString(string(data))
				if err != nil {
					return wire.File{}, fmt.Errorf("apiclient: base64 decode file part: %w", err)
				}
				data = decoded
			}
			content = data
			haveContent = true
		}
	}

	if !haveMeta || !haveContent {
		return wire.File{}, fmt.Errorf("apiclient: response for file %d missing metadata or file part", id)
	}

	f := wire.File{
		ID:            meta.ID,
		WorkspacePath: meta.WorkspacePath,
		MimeType:      meta.MimeType,
		Hash:          meta.Hash,
		Version:       meta.Version,
		CreatedAt:     meta.CreatedAt,
		UpdatedAt:     meta.UpdatedAt,
	}
	if wire.IsTextMime(f.MimeType) {
		f.Text = string(content)
	} else {
		f.Binary = content
	}
	return f, nil
}

func isBase64Encoded(header textproto.MIMEHeader) bool {
	return header.Get("Content-Transfer-Encoding") == "base64"
}

// CreateFile POSTs multipart to /v1/api/file with a "path" field and a
// "file" part.
func (c *HTTPClient) CreateFile(ctx context.Context, path string, content []byte) (wire.FileMetadata, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("path", path); err != nil {
		return wire.FileMetadata{}, err
	}
	part, err := w.CreateFormFile("file", path)
	if err != nil {
		return wire.FileMetadata{}, err
	}
	if _, err := part.Write(content); err != nil {
		return wire.FileMetadata{}, err
	}
	if err := w.Close(); err != nil {
		return wire.FileMetadata{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/api/file", &body)
	if err != nil {
		return wire.FileMetadata{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.do(req, http.StatusCreated)
	if err != nil {
		return wire.FileMetadata{}, err
	}
	defer resp.Body.Close()

	var out wire.FileMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wire.FileMetadata{}, fmt.Errorf("apiclient: decode create response: %w", err)
	}
	return out, nil
}

type renameRequest struct {
	Path string `json:"path"`
}

// RenameFile PATCHes /v1/api/file/{id} with the new path.
func (c *HTTPClient) RenameFile(ctx context.Context, id int64, newPath string) error {
	body, err := json.Marshal(renameRequest{Path: newPath})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, fmt.Sprintf("/v1/api/file/%d", id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, http.StatusNoContent)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DeleteFile DELETEs /v1/api/file/{id}.
func (c *HTTPClient) DeleteFile(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/api/file/%d", id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req, http.StatusNoContent)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// GetOperations fetches GET /v1/api/operation?fileId=&from=, the
// operation history used to fill version gaps.
func (c *HTTPClient) GetOperations(ctx context.Context, fileID int64, from int64) ([]wire.Operation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/api/operation", nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = url.Values{
		"fileId": {fmt.Sprintf("%d", fileID)},
		"from":   {fmt.Sprintf("%d", from)},
	}.Encode()
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []wire.Operation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("apiclient: decode operations: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	full, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build url for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, want int) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("apiclient: %s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode != want {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("apiclient: %s %s: want status %d, got %d: %s",
			req.Method, req.URL.Path, want, resp.StatusCode, body)
	}
	return resp, nil
}
