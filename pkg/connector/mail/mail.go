// Package mail implements the connector for Microsoft-Graph-style mailboxes
// using application (client-credentials) permissions.
package mail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jesterbot/gateway/pkg/connector"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

// Prefix is the routing prefix for mail results.
const Prefix = "outlook"

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	graphScope     = "https://graph.microsoft.com/.default"

	// snippetLen matches the preview length emitted in search results.
	snippetLen = 300
)

// folderAliases maps "in:<folder>" query tokens to Graph folder names.
var folderAliases = map[string]string{
	"in:inbox":     "inbox",
	"in:sent":      "sentitems",
	"in:sentitems": "sentitems",
	"in:drafts":    "drafts",
	"in:archive":   "archive",
}

func init() {
	connector.Register(gateway.SourceTypeOutlook, func(cfg registry.Config) (connector.Connector, error) {
		return New(cfg), nil
	})
}

// Handler searches and fetches mailbox messages for one configured user.
type Handler struct {
	sourceID string
	userID   string
	baseURL  string
	client   *http.Client
}

// New builds a mail handler from a validated source configuration. The
// returned handler lazily exchanges client credentials for tokens on first
// use; construction itself performs no network calls.
func New(cfg registry.Config) *Handler {
	cc := &clientcredentials.Config{
		ClientID:     cfg.Get("graph_client_id"),
		ClientSecret: cfg.Get("graph_client_secret"),
		TokenURL:     fmt.Sprintf(tokenURLFormat, cfg.Get("tenant_id")),
		Scopes:       []string{graphScope},
	}
	return &Handler{
		sourceID: cfg.SourceID,
		userID:   cfg.Get("graph_user_id"),
		baseURL:  defaultBaseURL,
		client:   cc.Client(context.Background()),
	}
}

// newForTest builds a handler against an arbitrary base URL with a plain
// client, bypassing the token exchange.
func newForTest(sourceID, userID, baseURL string, client *http.Client) *Handler {
	return &Handler{sourceID: sourceID, userID: userID, baseURL: baseURL, client: client}
}

// IDPrefix returns the mail routing prefix.
func (*Handler) IDPrefix() string { return Prefix }

// Name returns the handler name for logs.
func (h *Handler) Name() string { return "mail/" + h.sourceID }

// SourceID returns the source this handler was built from.
func (h *Handler) SourceID() string { return h.sourceID }

// parsedQuery is the outcome of splitting folder aliases out of a query.
type parsedQuery struct {
	folder string
	search string
}

// parseQuery extracts "in:<folder>" tokens from the query; the remaining
// tokens form the full-text search term. No term means "list the folder".
func parseQuery(query string) parsedQuery {
	p := parsedQuery{folder: "inbox"}
	var terms []string
	for _, tok := range strings.Fields(query) {
		if folder, ok := folderAliases[strings.ToLower(tok)]; ok {
			p.folder = folder
			continue
		}
		terms = append(terms, tok)
	}
	p.search = strings.Join(terms, " ")
	return p
}

// Search queries the user's mailbox. A bare folder alias lists that folder
// by received time; any other query runs a Graph $search, which requires
// the eventual-consistency header.
func (h *Handler) Search(ctx context.Context, query string, limit int) ([]gateway.Result, error) {
	q := parseQuery(query)

	params := url.Values{}
	params.Set("$top", strconv.Itoa(limit))
	params.Set("$select", "id,subject,from,receivedDateTime,isRead,webLink,bodyPreview")
	if q.search != "" {
		params.Set("$search", strconv.Quote(q.search))
	}

	endpoint := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages?%s",
		h.baseURL, url.PathEscape(h.userID), q.folder, params.Encode())

	body, err := connector.DoJSON(ctx, h.client, h.Name(), func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if q.search != "" {
			req.Header.Set("ConsistencyLevel", "eventual")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var results []gateway.Result
	gjson.GetBytes(body, "value").ForEach(func(_, m gjson.Result) bool {
		results = append(results, gateway.Result{
			ID:    gateway.JoinID(Prefix, m.Get("id").String()),
			Title: titleOf(m),
			Text:  gateway.Snippet(m.Get("bodyPreview").String(), snippetLen),
			URL:   m.Get("webLink").String(),
		})
		return true
	})
	return results, nil
}

// Fetch retrieves one message with its full body.
func (h *Handler) Fetch(ctx context.Context, nativeID string) (*gateway.Record, error) {
	params := url.Values{}
	params.Set("$select", "id,subject,from,receivedDateTime,isRead,webLink,body,bodyPreview")

	endpoint := fmt.Sprintf("%s/users/%s/messages/%s?%s",
		h.baseURL, url.PathEscape(h.userID), url.PathEscape(nativeID), params.Encode())

	body, err := connector.DoJSON(ctx, h.client, h.Name(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	msg := gjson.ParseBytes(body)
	content := msg.Get("body.content").String()
	if content == "" {
		content = msg.Get("bodyPreview").String()
	}

	return &gateway.Record{
		ID:    gateway.JoinID(Prefix, msg.Get("id").String()),
		Title: titleOf(msg),
		Text:  content,
		URL:   msg.Get("webLink").String(),
		Metadata: map[string]string{
			"from":             msg.Get("from.emailAddress.address").String(),
			"receivedDateTime": msg.Get("receivedDateTime").String(),
			"isRead":           msg.Get("isRead").Raw,
			"contentType":      strings.ToLower(msg.Get("body.contentType").String()),
		},
	}, nil
}

func titleOf(msg gjson.Result) string {
	if subject := msg.Get("subject").String(); subject != "" {
		return subject
	}
	return "(no subject)"
}
