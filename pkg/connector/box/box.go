// Package box implements the connector for Box-style file storage. Search
// runs the content search API; fetch downloads the extracted-text
// representation of a file.
package box

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jesterbot/gateway/pkg/connector"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

// Prefix is the routing prefix for file-storage results.
const Prefix = "box"

const (
	defaultAPIBaseURL  = "https://api.box.com"
	defaultAuthBaseURL = "https://api.box.com"

	// tokenSlack refreshes tokens this long before they actually expire.
	tokenSlack = 60 * time.Second

	snippetLen = 300
)

func init() {
	connector.Register(gateway.SourceTypeBox, func(cfg registry.Config) (connector.Connector, error) {
		return New(cfg, connector.NewHTTPClient()), nil
	})
}

// Handler searches and fetches files in one Box enterprise or user account.
type Handler struct {
	sourceID    string
	apiBaseURL  string
	authBaseURL string
	client      *http.Client

	clientID     string
	clientSecret string
	subjectType  string
	subjectID    string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New builds a file-storage handler from a validated source configuration.
// Tokens are exchanged lazily and cached until shortly before expiry.
func New(cfg registry.Config, client *http.Client) *Handler {
	return &Handler{
		sourceID:     cfg.SourceID,
		apiBaseURL:   defaultAPIBaseURL,
		authBaseURL:  defaultAuthBaseURL,
		client:       client,
		clientID:     cfg.Get("box_client_id"),
		clientSecret: cfg.Get("box_client_secret"),
		subjectType:  cfg.Get("box_subject_type"),
		subjectID:    cfg.Get("box_subject_id"),
	}
}

// IDPrefix returns the file-storage routing prefix.
func (*Handler) IDPrefix() string { return Prefix }

// Name returns the handler name for logs.
func (h *Handler) Name() string { return "box/" + h.sourceID }

// SourceID returns the source this handler was built from.
func (h *Handler) SourceID() string { return h.sourceID }

// token returns a cached access token, exchanging client credentials for a
// fresh one when the cache is empty or close to expiring. Box app tokens
// are downscoped to a subject user or enterprise via the box_subject form
// parameters.
func (h *Handler) token(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.accessToken != "" && time.Now().Before(h.tokenExpiry) {
		return h.accessToken, nil
	}

	form := url.Values{
		"grant_type":       {"client_credentials"},
		"client_id":        {h.clientID},
		"client_secret":    {h.clientSecret},
		"box_subject_type": {h.subjectType},
		"box_subject_id":   {h.subjectID},
	}
	body, err := connector.DoJSON(ctx, h.client, h.Name(), func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			h.authBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	parsed := gjson.ParseBytes(body)
	token := parsed.Get("access_token").String()
	if token == "" {
		return "", gateway.NewHandlerError(gateway.FailureAuth, h.Name(),
			fmt.Errorf("token response carried no access_token"))
	}
	ttl := time.Duration(parsed.Get("expires_in").Int()) * time.Second
	h.accessToken = token
	h.tokenExpiry = time.Now().Add(ttl - tokenSlack)
	return token, nil
}

// get issues one authenticated GET and returns the response body.
func (h *Handler) get(ctx context.Context, endpoint string, headers map[string]string) ([]byte, error) {
	token, err := h.token(ctx)
	if err != nil {
		return nil, err
	}
	return connector.DoJSON(ctx, h.client, h.Name(), func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

// Search runs a content search scoped to files.
func (h *Handler) Search(ctx context.Context, query string, limit int) ([]gateway.Result, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "file")
	params.Set("limit", strconv.Itoa(limit))

	body, err := h.get(ctx, h.apiBaseURL+"/2.0/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var results []gateway.Result
	gjson.GetBytes(body, "entries").ForEach(func(_, e gjson.Result) bool {
		id := e.Get("id").String()
		results = append(results, gateway.Result{
			ID:    gateway.JoinID(Prefix, id),
			Title: e.Get("name").String(),
			Text:  gateway.Snippet(e.Get("description").String(), snippetLen),
			URL:   "https://app.box.com/file/" + id,
		})
		return true
	})
	return results, nil
}

// Fetch retrieves one file's metadata and its extracted-text content. Files
// whose text extraction has not completed come back with an empty body and
// the representation state recorded in metadata.
func (h *Handler) Fetch(ctx context.Context, nativeID string) (*gateway.Record, error) {
	endpoint := fmt.Sprintf("%s/2.0/files/%s?fields=name,description,size,modified_at,representations",
		h.apiBaseURL, url.PathEscape(nativeID))
	body, err := h.get(ctx, endpoint, map[string]string{"x-rep-hints": "[extracted_text]"})
	if err != nil {
		return nil, err
	}

	file := gjson.ParseBytes(body)
	rec := &gateway.Record{
		ID:    gateway.JoinID(Prefix, file.Get("id").String()),
		Title: file.Get("name").String(),
		URL:   "https://app.box.com/file/" + file.Get("id").String(),
		Metadata: map[string]string{
			"size":        file.Get("size").Raw,
			"modified_at": file.Get("modified_at").String(),
		},
	}

	rep := extractedTextRep(file)
	if !rep.Exists() {
		rec.Text = file.Get("description").String()
		return rec, nil
	}
	rec.Metadata["extraction_state"] = rep.Get("status.state").String()

	tmpl := rep.Get("content.url_template").String()
	if tmpl == "" || rep.Get("status.state").String() != "success" {
		rec.Text = file.Get("description").String()
		return rec, nil
	}

	text, err := h.get(ctx, strings.ReplaceAll(tmpl, "{+asset_path}", ""), nil)
	if err != nil {
		return nil, err
	}
	rec.Text = string(text)
	return rec, nil
}

func extractedTextRep(file gjson.Result) gjson.Result {
	var found gjson.Result
	file.Get("representations.entries").ForEach(func(_, rep gjson.Result) bool {
		if rep.Get("representation").String() == "extracted_text" {
			found = rep
			return false
		}
		return true
	})
	return found
}
