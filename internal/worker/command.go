package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/qs3c/analytic_jobs/internal/model"
)

const defaultAnalyzerTimeout = 30 * time.Minute

// AnalyzerError 分析失败，包含用户友好消息和原始错误
type AnalyzerError struct {
	UserMessage string // 中文，写入状态事件
	RawError    error  // 原始错误，写日志
}

func (e *AnalyzerError) Error() string {
	return e.UserMessage
}

func (e *AnalyzerError) Unwrap() error {
	return e.RawError
}

// classifyAnalyzerError 根据进程错误和 stderr 分类
func classifyAnalyzerError(ctx context.Context, stderr string, err error) *AnalyzerError {
	raw := fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr))

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &AnalyzerError{UserMessage: "分析超时，请缩小检索范围后重试", RawError: raw}
	case errors.Is(ctx.Err(), context.Canceled):
		return &AnalyzerError{UserMessage: "分析已取消", RawError: raw}
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
		return &AnalyzerError{UserMessage: "分析程序不存在，请检查配置", RawError: raw}
	case errors.Is(err, os.ErrPermission):
		return &AnalyzerError{UserMessage: "分析程序无执行权限", RawError: raw}
	default:
		return &AnalyzerError{UserMessage: "分析程序执行失败", RawError: raw}
	}
}

// CommandAnalyzer 以子进程方式运行外部分析程序
//
// Params are written to stdin as JSON; everything the program writes to
// stdout becomes the payload. A non-zero exit fails the job.
type CommandAnalyzer struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Env     []string
}

// ParseCommand 把配置中的命令行拆分为程序和参数
func ParseCommand(command string, timeout time.Duration) (*CommandAnalyzer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty analyzer command")
	}
	return &CommandAnalyzer{Path: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

// NewCommandRegistry 根据配置 (分析类型 -> 命令) 构建 Registry
func NewCommandRegistry(commands map[string]string, timeout time.Duration) (Registry, error) {
	reg := make(Registry, len(commands))
	for name, command := range commands {
		t, err := model.ParseJobType(name)
		if err != nil {
			return nil, fmt.Errorf("analyzers.%s: %w", name, err)
		}
		a, err := ParseCommand(command, timeout)
		if err != nil {
			return nil, fmt.Errorf("analyzers.%s: %w", name, err)
		}
		reg[t] = a
	}
	return reg, nil
}

// Analyze 运行分析程序
func (a *CommandAnalyzer) Analyze(ctx context.Context, params Params) ([]byte, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultAnalyzerTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.Path, a.Args...)
	cmd.Env = append(os.Environ(), a.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("ANALYTIC_JOB_ID=%d", params.JobID),
		"ANALYTIC_JOB_TYPE="+params.Type,
	)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyAnalyzerError(runCtx, stderr.String(), err)
	}

	if stdout.Len() == 0 {
		return nil, &AnalyzerError{
			UserMessage: "分析程序没有输出结果",
			RawError:    fmt.Errorf("%s produced no output, stderr: %s", a.Path, strings.TrimSpace(stderr.String())),
		}
	}

	return stdout.Bytes(), nil
}
