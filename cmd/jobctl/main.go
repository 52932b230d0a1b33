package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func idFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "id",
		Usage:    "任务 ID",
		Required: true,
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "jobctl",
		Usage: "分析任务运维工具",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "配置文件路径",
				Value:   "config.yaml",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "actor",
				Usage:   "写入审计字段的操作人",
				Value:   "jobctl",
				Sources: cli.EnvVars("JOBCTL_ACTOR", "USER"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "创建或更新数据表",
				Action: migrateAction,
			},
			{
				Name:  "submit",
				Usage: "提交分析任务",

				// 切片选项按命令自身的设置解析，表达式中的逗号需原样保留
				DisableSliceFlagSeparator: true,

				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "search", Usage: "检索 ID", Required: true},
					&cli.StringFlag{Name: "type", Usage: "分析类型 FREQUENCY|COLLOCATION|OCCURENCE|NETWORK|RAW", Required: true},
					&cli.StringSliceFlag{Name: "expr", Usage: "表达式，可重复，按顺序保存"},
					&cli.StringSliceFlag{Name: "opposite", Usage: "对照表达式，可重复"},
					&cli.IntFlag{Name: "context-size", Usage: "上下文窗口大小"},
					&cli.IntFlag{Name: "limit", Usage: "结果数量上限"},
					&cli.BoolFlag{Name: "domains-only", Usage: "仅统计领域词"},
					&cli.BoolFlag{Name: "opposite-domains-only", Usage: "对照组仅统计领域词"},
				},
				Action: submitAction,
			},
			{
				Name:   "show",
				Usage:  "查看任务详情",
				Flags:  []cli.Flag{idFlag()},
				Action: showAction,
			},
			{
				Name:  "list",
				Usage: "列出检索下的任务",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "search", Usage: "检索 ID", Required: true},
				},
				Action: listAction,
			},
			{
				Name:  "result",
				Usage: "导出任务结果数据",
				Flags: []cli.Flag{
					idFlag(),
					&cli.StringFlag{Name: "out", Usage: "输出文件，默认写到标准输出"},
				},
				Action: resultAction,
			},
			{
				Name:  "stats",
				Usage: "按状态统计任务数量",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "search", Usage: "检索 ID，省略时统计全部"},
				},
				Action: statsAction,
			},
			{
				Name:  "requeue",
				Usage: "重新投递等待中的任务",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "最多投递数量", Value: 1000},
				},
				Action: requeueAction,
			},
			{
				Name:  "fail",
				Usage: "手动将执行中的任务标记为失败",
				Flags: []cli.Flag{
					idFlag(),
					&cli.StringFlag{Name: "reason", Usage: "失败原因", Value: "manually failed"},
				},
				Action: failAction,
			},
			{
				Name:  "watch",
				Usage: "实时输出任务状态变更",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "id", Usage: "只看指定任务"},
					&cli.Int64Flag{Name: "search", Usage: "只看指定检索下的任务"},
					&cli.IntFlag{Name: "count", Usage: "收到指定数量的事件后退出，0 表示一直运行"},
				},
				Action: watchAction,
			},
		},
	}
}
