package region

import "strings"

// SelectMirror 按国家代码从镜像表中选择配置文档地址，大小写不敏感，未命中时返回 fallback。
func SelectMirror(countryCode string, mirrors map[string]string, fallback string) string {
	code := strings.TrimSpace(countryCode)
	if code == "" {
		return fallback
	}
	for key, url := range mirrors {
		if strings.EqualFold(key, code) && strings.TrimSpace(url) != "" {
			return url
		}
	}
	return fallback
}
