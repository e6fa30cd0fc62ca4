package alert

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// formatFields 附加字段按 key 排序拼接，保证输出稳定
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// LogChannel 把告警追加写入文件或标准输出
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

func (c *LogChannel) Send(alert Alert) error {
	c.logger.Printf("[%s] %s%s", alert.Level, alert.Message, formatFields(alert.Fields))
	return nil
}

func (c *LogChannel) Name() string {
	return c.name
}

// ConsoleChannel 控制台告警通道（彩色输出）
type ConsoleChannel struct {
	name string
}

// NewConsoleChannel 创建控制台告警通道
func NewConsoleChannel(name string) *ConsoleChannel {
	return &ConsoleChannel{name: name}
}

func (c *ConsoleChannel) Send(alert Alert) error {
	const reset = "\033[0m"
	color := reset
	switch alert.Level {
	case LevelInfo:
		color = "\033[32m"
	case LevelWarning:
		color = "\033[33m"
	case LevelError:
		color = "\033[31m"
	case LevelCritical:
		color = "\033[35m"
	}

	fmt.Printf("%s[%s]%s %s - %s%s\n",
		color, alert.Level, reset,
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		alert.Message,
		formatFields(alert.Fields),
	)
	return nil
}

func (c *ConsoleChannel) Name() string {
	return c.name
}
