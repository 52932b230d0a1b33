package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/analytic_jobs/internal/model"
)

func testParams() Params {
	size := 4
	return Params{
		JobID:       11,
		SearchID:    3,
		Type:        "NETWORK",
		Expressions: []string{"b", "a"},
		ContextSize: &size,
	}
}

func TestParseCommand(t *testing.T) {
	a, err := ParseCommand("  analyzer-bin --mode  fast ", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "analyzer-bin", a.Path)
	assert.Equal(t, []string{"--mode", "fast"}, a.Args)
	assert.Equal(t, time.Minute, a.Timeout)

	_, err = ParseCommand("   ", time.Minute)
	assert.Error(t, err)
}

func TestNewCommandRegistry(t *testing.T) {
	reg, err := NewCommandRegistry(map[string]string{
		"frequency":  "freq-bin",
		"occurrence": "occ-bin --all",
	}, time.Second)
	require.NoError(t, err)
	assert.Len(t, reg, 2)

	a, err := reg.Lookup(model.JobTypeOccurrence)
	require.NoError(t, err)
	assert.Equal(t, "occ-bin", a.(*CommandAnalyzer).Path)

	_, err = reg.Lookup(model.JobTypeRaw)
	var ae *AnalyzerError
	assert.True(t, errors.As(err, &ae))

	_, err = NewCommandRegistry(map[string]string{"sentiment": "x"}, time.Second)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = NewCommandRegistry(map[string]string{"raw": ""}, time.Second)
	assert.Error(t, err)
}

func TestCommandAnalyzer_StdinToStdout(t *testing.T) {
	a := &CommandAnalyzer{Path: "cat", Timeout: 5 * time.Second}

	out, err := a.Analyze(context.Background(), testParams())
	require.NoError(t, err)

	var got Params
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, testParams(), got)
}

func TestCommandAnalyzer_Env(t *testing.T) {
	a := &CommandAnalyzer{
		Path: "sh",
		Args: []string{"-c", "printf '%s:%s:%s' \"$ANALYTIC_JOB_ID\" \"$ANALYTIC_JOB_TYPE\" \"$EXTRA\""},
		Env:  []string{"EXTRA=yes"},
	}

	out, err := a.Analyze(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, "11:NETWORK:yes", string(out))
}

func TestCommandAnalyzer_Errors(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *CommandAnalyzer
		message  string
	}{
		{
			name:     "non-zero exit",
			analyzer: &CommandAnalyzer{Path: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}},
			message:  "分析程序执行失败",
		},
		{
			name:     "missing binary",
			analyzer: &CommandAnalyzer{Path: "definitely-not-an-analyzer-binary"},
			message:  "分析程序不存在，请检查配置",
		},
		{
			name:     "timeout",
			analyzer: &CommandAnalyzer{Path: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond},
			message:  "分析超时，请缩小检索范围后重试",
		},
		{
			name:     "no output",
			analyzer: &CommandAnalyzer{Path: "true"},
			message:  "分析程序没有输出结果",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.analyzer.Analyze(context.Background(), testParams())
			assert.Nil(t, out)

			var ae *AnalyzerError
			require.True(t, errors.As(err, &ae), "got %v", err)
			assert.Equal(t, tt.message, ae.UserMessage)
			assert.NotNil(t, ae.RawError)
		})
	}
}

func TestCommandAnalyzer_StderrInRawError(t *testing.T) {
	a := &CommandAnalyzer{Path: "sh", Args: []string{"-c", "echo corrupt index >&2; exit 1"}}

	_, err := a.Analyze(context.Background(), testParams())
	var ae *AnalyzerError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.RawError.Error(), "corrupt index")
	assert.Equal(t, ae.UserMessage, err.Error())
}
