package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitID(t *testing.T) {
	tests := []struct {
		name       string
		opaque     string
		wantPrefix string
		wantNative string
		wantErr    bool
	}{
		{
			name:       "simple id",
			opaque:     "outlook::AAMkAGI2",
			wantPrefix: "outlook",
			wantNative: "AAMkAGI2",
		},
		{
			name:       "native part contains separator",
			opaque:     "snowflake::table/DB.SCHEMA::EXTRA",
			wantPrefix: "snowflake",
			wantNative: "table/DB.SCHEMA::EXTRA",
		},
		{
			name:       "empty native part is allowed",
			opaque:     "box::",
			wantPrefix: "box",
			wantNative: "",
		},
		{
			name:    "missing separator",
			opaque:  "outlook-AAMkAGI2",
			wantErr: true,
		},
		{
			name:    "empty prefix",
			opaque:  "::abc",
			wantErr: true,
		},
		{
			name:    "empty id",
			opaque:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, native, err := SplitID(tt.opaque)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrefix, prefix)
			assert.Equal(t, tt.wantNative, native)
		})
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	opaque := JoinID("outlook", "abc::def")
	prefix, native, err := SplitID(opaque)
	require.NoError(t, err)
	assert.Equal(t, "outlook", prefix)
	assert.Equal(t, "abc::def", native)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("  short  ", 10))
	assert.Equal(t, "12345...", Snippet("1234567890", 5))
	assert.Equal(t, "", Snippet("", 5))
}

func TestHandlerErrorClassification(t *testing.T) {
	base := errors.New("connection refused")
	he := NewHandlerError(FailureTransient, "mail/s1", base)

	assert.Equal(t, FailureTransient, ClassOf(he))
	assert.ErrorIs(t, he, base)
	assert.Contains(t, he.Error(), "mail/s1")
	assert.Contains(t, he.Error(), "transient")
}

func TestHandlerErrorNotFoundUnwrapsSentinel(t *testing.T) {
	he := NewHandlerError(FailureNotFound, "storage/s2", errors.New("404 from backend"))
	assert.ErrorIs(t, he, ErrNotFound)
	assert.Equal(t, FailureNotFound, ClassOf(he))
}

func TestClassOfUnclassified(t *testing.T) {
	assert.Equal(t, FailurePermanent, ClassOf(errors.New("anything")))
}
