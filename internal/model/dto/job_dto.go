package dto

// SubmitJobRequest 提交分析任务请求
type SubmitJobRequest struct {
	SearchID               int64    `json:"search_id"`
	Type                   string   `json:"type"`
	Expressions            []string `json:"expressions"`
	ExpressionsOpposite    []string `json:"expressions_opposite"`
	ContextSize            *int     `json:"context_size,omitempty"`
	Limit                  *int     `json:"limit,omitempty"`
	UseOnlyDomains         bool     `json:"use_only_domains"`
	UseOnlyDomainsOpposite bool     `json:"use_only_domains_opposite"`
}

// SubmitJobResponse 提交结果
type SubmitJobResponse struct {
	JobID    int64 `json:"job_id"`
	Enqueued bool  `json:"enqueued"`
}

// JobDetail 任务详情（不含结果数据）
type JobDetail struct {
	ID                     int64    `json:"id"`
	SearchID               int64    `json:"search_id"`
	State                  string   `json:"state"`
	Type                   string   `json:"type"`
	Expressions            []string `json:"expressions"`
	ExpressionsOpposite    []string `json:"expressions_opposite"`
	ContextSize            *int     `json:"context_size,omitempty"`
	Limit                  *int     `json:"limit,omitempty"`
	UseOnlyDomains         bool     `json:"use_only_domains"`
	UseOnlyDomainsOpposite bool     `json:"use_only_domains_opposite"`
	StartedAt              string   `json:"started_at,omitempty"`
	FinishedAt             string   `json:"finished_at,omitempty"`
	ElapsedSeconds         int      `json:"elapsed_seconds,omitempty"`
	CreatedAt              string   `json:"created_at"`
	UpdatedAt              string   `json:"updated_at"`
	CreatedBy              string   `json:"created_by,omitempty"`
}

// JobStats 各状态任务数量
type JobStats struct {
	SearchID int64            `json:"search_id,omitempty"`
	Total    int64            `json:"total"`
	ByState  map[string]int64 `json:"by_state"`
}
