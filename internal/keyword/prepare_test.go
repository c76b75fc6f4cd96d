package keyword

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareQuery_strict(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"python tutorial", "python OR tutorial", false},
		{"  python   ", "python", false},
		{"", "", false},
		{"   \t ", "", false},
		{"v1.2 foo-bar", "v1.2 OR foo-bar", false},
		{"café naïve 東京", "café OR naïve OR 東京", false},
		{"हिन्दी भाषा", "हिन्दी OR भाषा", false},
		{"cafe\u0301 menu", "cafe\u0301 OR menu", false},
		{"தமிழ்", "தமிழ்", false},
		{"\u0301abc", "", true},
		{"a-\u0301", "", true},
		{"python AND tutorial", "", true},
		{"python OR tutorial", "", true},
		{"NOT python", "", true},
		{"a NEAR b", "", true},
		{"test@example", "", true},
		{`"python tutorial"`, "", true},
		{"(python)", "", true},
		{"pyth*", "", true},
		{"title:python", "", true},
		{"^python", "", true},
		{"python+go", "", true},
		{"--", "", true},
		{"a;DROP", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := PrepareQuery(tt.raw, false)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuery))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrepareQuery_lowercaseOperatorWordsAreTerms(t *testing.T) {
	got, err := PrepareQuery("rock and roll", false)
	require.NoError(t, err)
	assert.Equal(t, "rock OR and OR roll", got)
}

func TestPrepareQuery_advanced(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"python AND tutorial", "python AND tutorial", false},
		{"python OR tutorial", "python OR tutorial", false},
		{"python tutorial", "python OR tutorial", false},
		{`"hello world" AND go`, `"hello world" AND go`, false},
		{"(a OR b) AND c", "(a OR b) AND c", false},
		{"( a  OR b )AND c", "(a OR b) AND c", false},
		{"a AND b OR c", "a AND b OR c", false},
		{"((a))", "((a))", false},
		{"\"हिन्दी भाषा\" AND cafe\u0301", "\"हिन्दी भाषा\" AND cafe\u0301", false},
		{"pyth*", "", true},
		{`"pyth* code"`, "", true},
		{"title:python", "", true},
		{"a NEAR b", "", true},
		{"NEAR(a b)", "", true},
		{"NOT a", "", true},
		{"(a OR b", "", true},
		{"a OR b)", "", true},
		{`"unterminated`, "", true},
		{`""`, "", true},
		{"()", "", true},
		{"AND a", "", true},
		{"a AND", "", true},
		{"a OR OR b", "", true},
		{"a AND AND b", "", true},
		{"test@example", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := PrepareQuery(tt.raw, true)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuery))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrepareQuery_limits(t *testing.T) {
	limits := QueryLimits{MaxLength: 40, MaxOrClauses: 3}

	_, err := limits.Prepare(strings.Repeat("a", 41), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "longer than 40")

	got, err := limits.Prepare("a b c", false)
	require.NoError(t, err)
	assert.Equal(t, "a OR b OR c", got)

	_, err = limits.Prepare("a b c d", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OR clauses")

	_, err = limits.Prepare("(a OR b) AND (c OR d)", true)
	require.NoError(t, err, "two OR operators make three clauses")
	_, err = limits.Prepare("(a OR b) AND (c OR d OR e)", true)
	require.Error(t, err)

	got, err = limits.Prepare("a AND b AND c", true)
	require.NoError(t, err)
	assert.Equal(t, "a AND b AND c", got)

	// length is counted in characters, not bytes
	_, err = QueryLimits{MaxLength: 4}.Prepare("日本語", false)
	assert.NoError(t, err)
}

func TestQueryError_message(t *testing.T) {
	_, err := PrepareQuery("test@example", false)
	require.Error(t, err)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "test@example", qe.Token)
	assert.Contains(t, err.Error(), "'@'")
}
