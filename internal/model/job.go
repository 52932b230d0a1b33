package model

import (
	"fmt"
	"strings"
	"time"
)

// JobState 分析任务状态
type JobState string

const (
	JobStateWaiting  JobState = "WAITING"
	JobStateRunning  JobState = "RUNNING"
	JobStateFinished JobState = "FINISHED"
	JobStateError    JobState = "ERROR"
)

// JobStates 所有状态，按生命周期顺序
var JobStates = []JobState{
	JobStateWaiting,
	JobStateRunning,
	JobStateFinished,
	JobStateError,
}

// Valid 是否为已知状态
func (s JobState) Valid() bool {
	switch s {
	case JobStateWaiting, JobStateRunning, JobStateFinished, JobStateError:
		return true
	}
	return false
}

// Terminal 终态不再允许任何迁移
func (s JobState) Terminal() bool {
	return s == JobStateFinished || s == JobStateError
}

// JobType 分析类型
type JobType string

// The persisted value of JobTypeOccurrence keeps the historical "OCCURENCE" spelling.
const (
	JobTypeFrequency   JobType = "FREQUENCY"
	JobTypeCollocation JobType = "COLLOCATION"
	JobTypeOccurrence  JobType = "OCCURENCE"
	JobTypeNetwork     JobType = "NETWORK"
	JobTypeRaw         JobType = "RAW"
)

// JobTypes 所有支持的分析类型
var JobTypes = []JobType{
	JobTypeFrequency,
	JobTypeCollocation,
	JobTypeOccurrence,
	JobTypeNetwork,
	JobTypeRaw,
}

// Valid 是否为已知分析类型
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseJobType 解析分析类型（忽略大小写，兼容 OCCURRENCE 拼写）
func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToUpper(strings.TrimSpace(s)))
	if t == "OCCURRENCE" {
		t = JobTypeOccurrence
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown job type %q", ErrValidation, s)
	}
	return t, nil
}

// nowFunc is replaced in tests that need a fixed clock.
var nowFunc = time.Now

// AnalyticJob 一次分析查询，隶属于某个检索
//
// SearchID and Type are fixed at creation; the repository never writes them
// after insert. The result payload lives in its own table and is only
// materialised through AttachPayload.
type AnalyticJob struct {
	ID                     int64      `gorm:"primaryKey" json:"id"`
	SearchID               int64      `gorm:"not null;index" json:"search_id"`
	State                  JobState   `gorm:"size:20;not null;index" json:"state"`
	Type                   JobType    `gorm:"size:20;not null" json:"type"`
	Expressions            []string   `gorm:"-" json:"expressions"`
	ExpressionsOpposite    []string   `gorm:"-" json:"expressions_opposite"`
	ContextSize            *int       `gorm:"column:context_size" json:"context_size,omitempty"`
	Limit                  *int       `gorm:"column:result_limit" json:"limit,omitempty"`
	UseOnlyDomains         bool       `gorm:"not null" json:"use_only_domains"`
	UseOnlyDomainsOpposite bool       `gorm:"not null" json:"use_only_domains_opposite"`
	StartedAt              *time.Time `gorm:"index" json:"started_at,omitempty"`
	FinishedAt             *time.Time `json:"finished_at,omitempty"`
	Version                int        `gorm:"not null;default:0" json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	CreatedBy              string     `gorm:"size:100" json:"created_by,omitempty"`
	UpdatedBy              string     `gorm:"size:100" json:"updated_by,omitempty"`

	data []byte
}

func (AnalyticJob) TableName() string {
	return "analytic_query"
}

// CreateParams 创建任务参数
type CreateParams struct {
	SearchID               int64
	Type                   JobType
	Expressions            []string
	ExpressionsOpposite    []string
	ContextSize            *int
	Limit                  *int
	UseOnlyDomains         bool
	UseOnlyDomainsOpposite bool
}

// NewAnalyticJob 创建处于 WAITING 状态的新任务
func NewAnalyticJob(p CreateParams) (*AnalyticJob, error) {
	if p.SearchID <= 0 {
		return nil, fmt.Errorf("%w: search id is required", ErrValidation)
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrValidation, p.Type)
	}
	if p.ContextSize != nil && *p.ContextSize < 0 {
		return nil, fmt.Errorf("%w: context size must not be negative", ErrValidation)
	}
	if p.Limit != nil && *p.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}

	return &AnalyticJob{
		SearchID:               p.SearchID,
		State:                  JobStateWaiting,
		Type:                   p.Type,
		Expressions:            copyStrings(p.Expressions),
		ExpressionsOpposite:    copyStrings(p.ExpressionsOpposite),
		ContextSize:            copyInt(p.ContextSize),
		Limit:                  copyInt(p.Limit),
		UseOnlyDomains:         p.UseOnlyDomains,
		UseOnlyDomainsOpposite: p.UseOnlyDomainsOpposite,
	}, nil
}

// Start WAITING → RUNNING
func (j *AnalyticJob) Start() error {
	if j.State != JobStateWaiting {
		return j.transitionError("start")
	}
	now := nowFunc()
	j.State = JobStateRunning
	j.StartedAt = &now
	return nil
}

// Complete RUNNING → FINISHED，并附加结果数据
func (j *AnalyticJob) Complete(payload []byte) error {
	if j.State != JobStateRunning {
		return j.transitionError("complete")
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: result payload is empty", ErrValidation)
	}
	now := j.finishTime()
	j.State = JobStateFinished
	j.FinishedAt = &now
	j.data = append([]byte(nil), payload...)
	return nil
}

// Fail RUNNING → ERROR
func (j *AnalyticJob) Fail() error {
	if j.State != JobStateRunning {
		return j.transitionError("fail")
	}
	now := j.finishTime()
	j.State = JobStateError
	j.FinishedAt = &now
	j.data = nil
	return nil
}

// finishTime never precedes StartedAt, even when the worker clock lags the
// one that started the job.
func (j *AnalyticJob) finishTime() time.Time {
	now := nowFunc()
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		return *j.StartedAt
	}
	return now
}

// ResultPayload 返回结果数据，仅 FINISHED 且已加载时可用
func (j *AnalyticJob) ResultPayload() ([]byte, error) {
	if j.State != JobStateFinished {
		return nil, fmt.Errorf("%w: job %d is %s", ErrNotAvailable, j.ID, j.State)
	}
	if j.data == nil {
		return nil, ErrPayloadNotLoaded
	}
	return append([]byte(nil), j.data...), nil
}

// HasPayload reports whether the payload is held in memory.
func (j *AnalyticJob) HasPayload() bool {
	return j.data != nil
}

// AttachPayload 由持久层在按需加载后调用
func (j *AnalyticJob) AttachPayload(data []byte) error {
	if j.State != JobStateFinished {
		return fmt.Errorf("%w: job %d is %s", ErrNotAvailable, j.ID, j.State)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: result payload is empty", ErrValidation)
	}
	j.data = append([]byte(nil), data...)
	return nil
}

// SetExpressions 替换表达式列表，仅 WAITING 状态允许
func (j *AnalyticJob) SetExpressions(expressions, opposite []string) error {
	if j.State != JobStateWaiting {
		return j.transitionError("change expressions")
	}
	j.Expressions = copyStrings(expressions)
	j.ExpressionsOpposite = copyStrings(opposite)
	return nil
}

func (j *AnalyticJob) transitionError(action string) error {
	return &TransitionError{JobID: j.ID, From: j.State, Action: action}
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// AnalyticJobExpression 正向表达式，按 position 保持顺序
type AnalyticJobExpression struct {
	JobID    int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Value    string `gorm:"column:analytic_query_expression;size:500;not null"`
}

func (AnalyticJobExpression) TableName() string {
	return "analytic_query_expression"
}

// AnalyticJobOppositeExpression 对照表达式
type AnalyticJobOppositeExpression struct {
	JobID    int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Value    string `gorm:"column:analytic_query_expression_opposite;size:500;not null"`
}

func (AnalyticJobOppositeExpression) TableName() string {
	return "analytic_query_expression_opposite"
}

// AnalyticJobResult 结果数据，单独存放以便延迟加载
type AnalyticJobResult struct {
	JobID     int64     `gorm:"primaryKey;autoIncrement:false"`
	Data      []byte    `gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (AnalyticJobResult) TableName() string {
	return "analytic_query_data"
}
