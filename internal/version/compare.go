package version

import (
	"math"
	"strings"
)

// Compare 比较两个点分版本号，返回 -1、0 或 1。
//
// 较短的一方以 0 补齐，例如 1.2 与 1.2.0 相等。分量只取前导数字，
// 非数字分量按 0 处理。任一输入为空时返回 0：缺失的版本号不表达任何顺序，
// 不能让不完整的远程文档阻断用户。
func Compare(a, b string) int {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}

	ap := strings.Split(a, ".")
	bp := strings.Split(b, ".")
	max := len(ap)
	if len(bp) > max {
		max = len(bp)
	}
	for i := 0; i < max; i++ {
		ai := 0
		if i < len(ap) {
			ai = parseInt(ap[i])
		}
		bi := 0
		if i < len(bp) {
			bi = parseInt(bp[i])
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}

// Valid 判断版本号是否由非负整数分量组成，仅用于记录格式异常的远程字段。
func Valid(v string) bool {
	v = normalize(v)
	if v == "" {
		return false
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') && v[1] >= '0' && v[1] <= '9' {
		v = v[1:]
	}
	return v
}

// parseInt 只读取前导数字，溢出时截断为已读部分。
func parseInt(value string) int {
	var n int
	for _, ch := range strings.TrimSpace(value) {
		if ch < '0' || ch > '9' {
			break
		}
		if n > (math.MaxInt-9)/10 {
			break
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
