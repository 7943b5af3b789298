package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout 结果文件与缓存文件使用的时间格式
const TimestampLayout = "20060102_150405"

// GenerateTaskID 生成本次运行的时间戳
func GenerateTaskID(now time.Time) string {
	return now.Format(TimestampLayout)
}

// GenerateResultFileName 生成结果文件名，如 hidden_example.com_20250726_155103.txt
func GenerateResultFileName(kind, domain, taskID string) string {
	return fmt.Sprintf("%s_%s_%s.txt", kind, domain, taskID)
}

// GenerateCSVFileName 生成CSV文件名
func GenerateCSVFileName(domain, taskID string) string {
	return fmt.Sprintf("assets_%s_%s.csv", domain, taskID)
}

// LatestResultFile 在 dir 中查找某类结果文件的最新一份，找不到返回空串
func LatestResultFile(dir, kind, domain string) string {
	pattern := filepath.Join(dir, fmt.Sprintf("%s_%s_*.txt", kind, globEscape(domain)))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	prefix := fmt.Sprintf("%s_%s_", kind, domain)
	var candidates []string
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".txt")
		if _, err := time.Parse(TimestampLayout, stamp); err != nil {
			continue
		}
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	// 时间戳定长，字典序即时间序
	sort.Strings(candidates)
	return candidates[len(candidates)-1]
}

func globEscape(s string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}
