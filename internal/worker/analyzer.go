package worker

import (
	"context"
	"fmt"

	"github.com/qs3c/analytic_jobs/internal/model"
)

// Params 传给分析程序的任务参数
type Params struct {
	JobID                  int64    `json:"job_id"`
	SearchID               int64    `json:"search_id"`
	Type                   string   `json:"type"`
	Expressions            []string `json:"expressions"`
	ExpressionsOpposite    []string `json:"expressions_opposite"`
	ContextSize            *int     `json:"context_size,omitempty"`
	Limit                  *int     `json:"limit,omitempty"`
	UseOnlyDomains         bool     `json:"use_only_domains"`
	UseOnlyDomainsOpposite bool     `json:"use_only_domains_opposite"`
}

// ParamsFromJob 从任务记录构造参数
func ParamsFromJob(job *model.AnalyticJob) Params {
	return Params{
		JobID:                  job.ID,
		SearchID:               job.SearchID,
		Type:                   string(job.Type),
		Expressions:            job.Expressions,
		ExpressionsOpposite:    job.ExpressionsOpposite,
		ContextSize:            job.ContextSize,
		Limit:                  job.Limit,
		UseOnlyDomains:         job.UseOnlyDomains,
		UseOnlyDomainsOpposite: job.UseOnlyDomainsOpposite,
	}
}

// Analyzer 执行一种分析并返回结果数据
type Analyzer interface {
	Analyze(ctx context.Context, params Params) ([]byte, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, params Params) ([]byte, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, params Params) ([]byte, error) {
	return f(ctx, params)
}

// Registry 分析类型到分析器的映射
type Registry map[model.JobType]Analyzer

// Lookup 查找分析器
func (r Registry) Lookup(t model.JobType) (Analyzer, error) {
	a, ok := r[t]
	if !ok || a == nil {
		return nil, &AnalyzerError{
			UserMessage: "未配置该类型的分析程序",
			RawError:    fmt.Errorf("no analyzer registered for %s", t),
		}
	}
	return a, nil
}
