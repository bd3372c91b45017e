// =============================================================================
// 文件: internal/supervisor/env.go
// 描述: %NAME% 形式的环境变量展开
// =============================================================================
package supervisor

import (
	"os"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandEnv 展开 %NAME% 占位符，未定义的变量保留原样
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}
