package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  FactList
	}{
		{"list", `["revenue up 15%","net income $12.5M"]`, FactList{"revenue up 15%", "net income $12.5M"}},
		{"single string becomes one fact", `"CEO resigned effective Feb 28"`, FactList{"CEO resigned effective Feb 28"}},
		{"blank entries dropped", `["a","  ",null,"b"]`, FactList{"a", "b"}},
		{"empty string", `""`, FactList{}},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FactList
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	valid := `{"executive_summary":"s","objective_facts":["f1","f2"],"positive_signals":"p","potential_risks":"r","overall_opinion":"o"}`

	t.Run("plain json", func(t *testing.T) {
		a, err := ParseAnalysis(valid)
		require.NoError(t, err)
		assert.Equal(t, "s", a.ExecutiveSummary)
		assert.Equal(t, FactList{"f1", "f2"}, a.ObjectiveFacts)
		assert.Equal(t, "o", a.OverallOpinion)
	})

	t.Run("wrapped in code fence", func(t *testing.T) {
		a, err := ParseAnalysis("```json\n" + valid + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "p", a.PositiveSignals)
	})

	t.Run("string facts", func(t *testing.T) {
		a, err := ParseAnalysis(`{"executive_summary":"s","objective_facts":"only one","positive_signals":"p","potential_risks":"r","overall_opinion":"o"}`)
		require.NoError(t, err)
		assert.Equal(t, FactList{"only one"}, a.ObjectiveFacts)
	})

	t.Run("missing field is malformed", func(t *testing.T) {
		_, err := ParseAnalysis(`{"executive_summary":"s","objective_facts":[],"positive_signals":"p","potential_risks":"r"}`)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedAnalysis))
		assert.Contains(t, err.Error(), FieldOverallOpinion)
	})

	t.Run("no json object", func(t *testing.T) {
		_, err := ParseAnalysis("I cannot help with that")
		assert.True(t, errors.Is(err, ErrMalformedAnalysis))
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := ParseAnalysis("   ")
		assert.True(t, errors.Is(err, ErrEmptyAnalysis))
	})

	t.Run("all fields blank", func(t *testing.T) {
		_, err := ParseAnalysis(`{"executive_summary":"","objective_facts":[],"positive_signals":"","potential_risks":"","overall_opinion":""}`)
		assert.True(t, errors.Is(err, ErrEmptyAnalysis))
	})
}

func TestJob_RecordFailure(t *testing.T) {
	job := &Job{FilingRef: "F1", Status: JobStatusPending, RetryCount: 2}

	job.RecordFailure(errors.New("extract failed"), 3, job.LastModifiedAt)
	// 3 failures with maxRetries=3 reaches the limit
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, JobStatusPermanentFail, job.Status)
	assert.Equal(t, "extract failed", job.LastError)

	job = &Job{FilingRef: "F2", Status: JobStatusPending, RetryCount: 1}
	job.RecordFailure(nil, 3, job.LastModifiedAt)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestParseForm(t *testing.T) {
	ft, err := ParseForm("10-K")
	require.NoError(t, err)
	assert.Equal(t, FilingTypePeriodicAnnual, ft)

	ft, err = ParseForm(" 8-k ")
	require.NoError(t, err)
	assert.Equal(t, FilingTypeEvent, ft)

	_, err = ParseForm("10-K/A")
	assert.True(t, errors.Is(err, ErrUnsupportedFilingType))

	_, err = ParseForm("13F-HR")
	assert.True(t, errors.Is(err, ErrUnsupportedFilingType))

	assert.Equal(t, "10-Q", FilingTypePeriodicQuarterly.FormName())
	assert.False(t, FilingType("S-4").IsValid())
}
