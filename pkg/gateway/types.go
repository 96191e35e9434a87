package gateway

import (
	"fmt"
	"strings"
	"time"
)

// SourceType tags a source with the external system it credentials.
// The set is closed at the storage layer but extensible through the
// connector registry.
type SourceType string

const (
	// SourceTypeOutlook is a Microsoft Graph mail source.
	SourceTypeOutlook SourceType = "outlook"

	// SourceTypeSnowflake is a Snowflake Cortex warehouse source.
	SourceTypeSnowflake SourceType = "snowflake"

	// SourceTypeBox is a Box file-storage source.
	SourceTypeBox SourceType = "box"
)

// Source is a stored credential/configuration bundle for one external
// system instance. Metadata holds the type-specific fields; its shape is
// validated against Type before the source is ever persisted.
type Source struct {
	// ID is the opaque unique identifier for this source.
	ID string

	// OwnerID identifies the tenant user that owns this source.
	// Every read and write is scoped by owner.
	OwnerID string

	// Type selects the connector implementation for this source.
	Type SourceType

	// Metadata holds the type-specific credential fields, e.g. tenant_id
	// and graph_client_secret for an outlook source.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VirtualServer is a named, internet-addressable aggregation point. Its
// endpoint is allocated exactly once at creation from the configured pool
// and never changes; it is released only on hard deletion.
type VirtualServer struct {
	// ID is the unique identifier for this server.
	ID string

	// OwnerID identifies the tenant user that owns this server.
	OwnerID string

	// Name is the human-readable server name.
	Name string

	// Endpoint is the public domain assigned from the endpoint pool.
	// Immutable after creation.
	Endpoint string

	// SourceIDs references the sources this server aggregates. Order is
	// creation order and determines same-prefix fetch ordering.
	SourceIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time

	// DeletedAt is set on soft deletion. A soft-deleted server keeps its
	// endpoint reserved until it is hard-deleted.
	DeletedAt *time.Time
}

// Deleted reports whether the server is soft-deleted.
func (s *VirtualServer) Deleted() bool {
	return s.DeletedAt != nil
}

// Result is one entry returned by an aggregated search. ID is an opaque
// identifier in the "prefix::native_id" form.
type Result struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
}

// Record is a fully-hydrated document returned by fetch.
type Record struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchOutcome is the aggregate search response: the concatenated results
// plus the per-handler success/failure breakdown. Zero handlers configured
// yields an empty outcome with both counts at zero, which is a success.
type SearchOutcome struct {
	Results           []Result `json:"results"`
	HandlersSucceeded int      `json:"handlers_succeeded"`
	HandlersFailed    int      `json:"handlers_failed"`
}

// IDSeparator joins a connector prefix and a backend-native identifier in
// opaque result IDs. This format is a public contract: previously issued
// IDs break if it changes.
const IDSeparator = "::"

// JoinID builds an opaque identifier from a connector prefix and a
// backend-native identifier.
func JoinID(prefix, nativeID string) string {
	return prefix + IDSeparator + nativeID
}

// SplitID splits an opaque identifier on the first separator. The native
// part may itself contain the separator.
func SplitID(opaqueID string) (prefix, nativeID string, err error) {
	prefix, nativeID, ok := strings.Cut(opaqueID, IDSeparator)
	if !ok || prefix == "" {
		return "", "", fmt.Errorf("%w: id must be in the form '<prefix>%s<native_id>', got %q",
			ErrInvalidInput, IDSeparator, opaqueID)
	}
	return prefix, nativeID, nil
}

// Snippet truncates text to maxLen runes for result previews, appending an
// ellipsis when truncated.
func Snippet(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
