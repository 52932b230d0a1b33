package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported StringArray source %T", value)
	}
}

// SearchState 检索状态
type SearchState string

const (
	SearchStateWaiting    SearchState = "WAITING"
	SearchStateIndexing   SearchState = "INDEXING"
	SearchStateProcessing SearchState = "PROCESSING"
	SearchStateError      SearchState = "ERROR"
	SearchStateDone       SearchState = "DONE"
)

// Search 检索记录，分析任务仅通过 ID 引用
type Search struct {
	ID        int64       `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"size:200;not null" json:"name"`
	State     SearchState `gorm:"size:20;not null;index" json:"state"`
	Filter    string      `gorm:"type:text" json:"filter,omitempty"`
	StopWords StringArray `gorm:"type:json" json:"stop_words,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	CreatedBy string      `gorm:"size:100" json:"created_by,omitempty"`
	UpdatedBy string      `gorm:"size:100" json:"updated_by,omitempty"`
}

func (Search) TableName() string {
	return "search"
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Search{},
		&AnalyticJob{},
		&AnalyticJobExpression{},
		&AnalyticJobOppositeExpression{},
		&AnalyticJobResult{},
	}
}
