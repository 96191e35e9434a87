// Package warehouse implements the connector for Snowflake-Cortex-style
// data warehouses. Queries run through the Cortex agent endpoint, which
// answers in natural language and cites the documents it drew from.
package warehouse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jesterbot/gateway/pkg/connector"
	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/registry"
)

// Prefix is the routing prefix for warehouse results.
const Prefix = "snowflake"

const (
	agentPath = "/api/v2/cortex/agent:run"

	// tokenTypeHeader tells the SQL API the bearer token is a PAT rather
	// than an OAuth token.
	tokenTypeHeader = "PROGRAMMATIC_ACCESS_TOKEN"

	snippetLen = 300
)

func init() {
	connector.Register(gateway.SourceTypeSnowflake, func(cfg registry.Config) (connector.Connector, error) {
		return New(cfg, connector.NewHTTPClient()), nil
	})
}

// Handler runs natural-language queries against one Cortex agent deployment.
type Handler struct {
	sourceID      string
	accountURL    string
	pat           string
	semanticModel string
	searchService string
	client        *http.Client
}

// New builds a warehouse handler from a validated source configuration.
func New(cfg registry.Config, client *http.Client) *Handler {
	return &Handler{
		sourceID:      cfg.SourceID,
		accountURL:    strings.TrimRight(cfg.Get("snowflake_account_url"), "/"),
		pat:           cfg.Get("snowflake_pat"),
		semanticModel: cfg.Get("snowflake_semantic_model_file"),
		searchService: cfg.Get("snowflake_cortex_search_service"),
		client:        client,
	}
}

// IDPrefix returns the warehouse routing prefix.
func (*Handler) IDPrefix() string { return Prefix }

// Name returns the handler name for logs.
func (h *Handler) Name() string { return "warehouse/" + h.sourceID }

// SourceID returns the source this handler was built from.
func (h *Handler) SourceID() string { return h.sourceID }

// agentAnswer is the distilled outcome of one agent run.
type agentAnswer struct {
	text      string
	sql       string
	citations []citation
}

type citation struct {
	docID    string
	sourceID string
}

// Search asks the agent the query as-is. Cited documents become individual
// results; when the agent answers without citing anything, the answer text
// itself is returned as a single result keyed by the query.
func (h *Handler) Search(ctx context.Context, query string, limit int) ([]gateway.Result, error) {
	answer, err := h.run(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []gateway.Result
	for _, c := range answer.citations {
		if c.docID == "" {
			continue
		}
		results = append(results, gateway.Result{
			ID:    gateway.JoinID(Prefix, c.docID),
			Title: c.docID,
			Text:  gateway.Snippet(answer.text, snippetLen),
		})
		if len(results) == limit {
			break
		}
	}
	if len(results) == 0 && answer.text != "" {
		results = append(results, gateway.Result{
			ID:    gateway.JoinID(Prefix, query),
			Title: query,
			Text:  gateway.Snippet(answer.text, snippetLen),
		})
	}
	return results, nil
}

// Fetch re-runs the agent on the native identifier and returns the full
// answer. The generated SQL, when any, is kept as metadata so callers can
// audit what the agent actually executed.
func (h *Handler) Fetch(ctx context.Context, nativeID string) (*gateway.Record, error) {
	answer, err := h.run(ctx, nativeID)
	if err != nil {
		return nil, err
	}
	if answer.text == "" && answer.sql == "" {
		return nil, gateway.NewHandlerError(gateway.FailureNotFound, h.Name(),
			fmt.Errorf("agent produced no answer for %q", nativeID))
	}

	metadata := map[string]string{}
	if answer.sql != "" {
		metadata["sql"] = answer.sql
	}
	return &gateway.Record{
		ID:       gateway.JoinID(Prefix, nativeID),
		Title:    nativeID,
		Text:     answer.text,
		Metadata: metadata,
	}, nil
}

// run posts one agent request and parses the event stream it answers with.
func (h *Handler) run(ctx context.Context, query string) (*agentAnswer, error) {
	payload, err := h.buildPayload(query)
	if err != nil {
		return nil, gateway.NewHandlerError(gateway.FailurePermanent, h.Name(), err)
	}

	body, err := connector.DoJSON(ctx, h.client, h.Name(), func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			h.accountURL+agentPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+h.pat)
		req.Header.Set("X-Snowflake-Authorization-Token-Type", tokenTypeHeader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	return parseEventStream(body), nil
}

func (h *Handler) buildPayload(query string) ([]byte, error) {
	payload := `{
		"model": "claude-3-5-sonnet",
		"response_instruction": "You are a helpful AI assistant.",
		"tools": [
			{"tool_spec": {"type": "cortex_analyst_text_to_sql", "name": "Analyst1"}},
			{"tool_spec": {"type": "cortex_search", "name": "Search1"}},
			{"tool_spec": {"type": "sql_exec", "name": "sql_execution_tool"}}
		],
		"tool_choice": {"type": "auto"}
	}`
	var err error
	for _, set := range []struct {
		path  string
		value any
	}{
		{"tool_resources.Analyst1.semantic_model_file", h.semanticModel},
		{"tool_resources.Search1.name", h.searchService},
		{"messages.0.role", "user"},
		{"messages.0.content.0.type", "text"},
		{"messages.0.content.0.text", query},
	} {
		payload, err = sjson.Set(payload, set.path, set.value)
		if err != nil {
			return nil, err
		}
	}
	return []byte(payload), nil
}

// parseEventStream walks the "data:" frames of an agent event stream and
// accumulates answer text, the first generated SQL statement, and cited
// documents. Frames that are not JSON, and telemetry envelopes, are
// skipped.
func parseEventStream(body []byte) *agentAnswer {
	answer := &agentAnswer{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		frame := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if frame == "" || frame == "[DONE]" {
			continue
		}
		parsed := gjson.Parse(frame)
		if !parsed.IsObject() && !parsed.IsArray() {
			continue
		}
		forEachEvent(parsed, func(ev gjson.Result) {
			delta := ev.Get("delta")
			if !delta.Exists() {
				delta = ev.Get("data.delta")
			}
			if !delta.Exists() {
				return
			}
			delta.Get("content").ForEach(func(_, item gjson.Result) bool {
				switch item.Get("type").String() {
				case "text":
					answer.text += item.Get("text").String()
				case "tool_results":
					collectToolResults(item.Get("tool_results.content"), answer)
				}
				return true
			})
			if answer.sql == "" {
				answer.sql = delta.Get("sql").String()
			}
		})
	}
	return answer
}

// forEachEvent flattens a frame that may be one event or a list of events.
func forEachEvent(frame gjson.Result, fn func(gjson.Result)) {
	if frame.IsArray() {
		frame.ForEach(func(_, ev gjson.Result) bool {
			forEachEvent(ev, fn)
			return true
		})
		return
	}
	if frame.IsObject() {
		fn(frame)
	}
}

func collectToolResults(content gjson.Result, answer *agentAnswer) {
	content.ForEach(func(_, res gjson.Result) bool {
		if res.Get("type").String() != "json" {
			return true
		}
		j := res.Get("json")
		answer.text += j.Get("text").String()
		if answer.sql == "" {
			answer.sql = j.Get("sql").String()
		}
		j.Get("searchResults").ForEach(func(_, sr gjson.Result) bool {
			answer.citations = append(answer.citations, citation{
				docID:    sr.Get("doc_id").String(),
				sourceID: sr.Get("source_id").String(),
			})
			return true
		})
		return true
	})
}
