// Package registry resolves stored sources into the connector-specific
// configuration needed to instantiate a connector. It owns the metadata
// validation for every source type: the same checks run synchronously on
// source create/update so invalid metadata is never persisted.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jesterbot/gateway/pkg/gateway"
)

// Config is the validated credential bundle for one source, holding exactly
// the fields required by the source type's connector constructor.
type Config struct {
	// SourceID is the source this config was resolved from.
	SourceID string

	// Type is the source type tag.
	Type gateway.SourceType

	// Fields maps required metadata keys to their values. Only keys listed
	// in the type's requirement set are present.
	Fields map[string]string
}

// Get returns the named field value. Resolve guarantees every required
// field is present and non-blank, so lookups for required keys never miss.
func (c Config) Get(key string) string {
	return c.Fields[key]
}

// requiredFields lists the metadata keys each source type must carry.
// The key names are part of the persisted metadata contract.
var requiredFields = map[gateway.SourceType][]string{
	gateway.SourceTypeOutlook: {
		"tenant_id",
		"graph_client_id",
		"graph_client_secret",
		"graph_user_id",
	},
	gateway.SourceTypeSnowflake: {
		"snowflake_account_url",
		"snowflake_pat",
		"snowflake_semantic_model_file",
		"snowflake_cortex_search_service",
	},
	gateway.SourceTypeBox: {
		"box_client_id",
		"box_client_secret",
		"box_subject_type",
		"box_subject_id",
	},
}

// SupportedTypes returns the source types the registry can resolve, sorted.
func SupportedTypes() []gateway.SourceType {
	types := make([]gateway.SourceType, 0, len(requiredFields))
	for t := range requiredFields {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ValidateMetadata checks that metadata carries every field the source type
// requires. It returns a ValidationError naming the first missing or blank
// field, checked in declaration order so failures are deterministic.
func ValidateMetadata(sourceType gateway.SourceType, metadata map[string]string) error {
	fields, ok := requiredFields[sourceType]
	if !ok {
		return fmt.Errorf("unsupported source type: %q", sourceType)
	}
	for _, field := range fields {
		value, present := metadata[field]
		if !present {
			return gateway.NewValidationError(field, "is required")
		}
		if strings.TrimSpace(value) == "" {
			return gateway.NewValidationError(field, "must not be blank")
		}
	}
	return nil
}

// Resolve type-checks the source's metadata and extracts the fields its
// connector constructor needs. Incomplete metadata yields a ValidationError
// naming the offending field.
func Resolve(source gateway.Source) (Config, error) {
	if err := ValidateMetadata(source.Type, source.Metadata); err != nil {
		return Config{}, err
	}

	fields := make(map[string]string, len(requiredFields[source.Type]))
	for _, field := range requiredFields[source.Type] {
		fields[field] = source.Metadata[field]
	}

	return Config{
		SourceID: source.ID,
		Type:     source.Type,
		Fields:   fields,
	}, nil
}
