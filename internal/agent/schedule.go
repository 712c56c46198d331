package agent

import (
	"fmt"
	"strings"
)

// Schedule 决定哪些步骤需要咨询顾问
type Schedule interface {
	Due(step int) bool
	String() string
}

// EveryN 在 step mod N == 0 时咨询
type EveryN struct {
	N int
}

func (s EveryN) Due(step int) bool { return s.N > 0 && step%s.N == 0 }
func (s EveryN) String() string    { return fmt.Sprintf("every_n(%d)", s.N) }

// FirstK 只在前 K 步咨询
type FirstK struct {
	K int
}

func (s FirstK) Due(step int) bool { return step < s.K }
func (s FirstK) String() string    { return fmt.Sprintf("first_k(%d)", s.K) }

// Never 从不咨询
type Never struct{}

func (Never) Due(int) bool   { return false }
func (Never) String() string { return "never" }

// ParseSchedule 由配置构造咨询计划
func ParseSchedule(kind string, n, k int) (Schedule, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "every_n":
		if n < 1 {
			return nil, fmt.Errorf("every_n schedule needs frequency >= 1, got %d", n)
		}
		return EveryN{N: n}, nil
	case "first_k":
		if k < 0 {
			return nil, fmt.Errorf("first_k schedule needs k >= 0, got %d", k)
		}
		return FirstK{K: k}, nil
	case "never", "":
		return Never{}, nil
	default:
		return nil, fmt.Errorf("unknown schedule %q", kind)
	}
}
