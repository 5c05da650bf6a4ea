package session

import "time"

// 重置模式 / reset modes
const (
	ResetDaily = "daily"
	ResetIdle  = "idle"
	ResetBoth  = "both"
)

// ResetPolicy 判定会话是否过期的纯谓词；由 SessionStore 负责据此行动。
// ResetPolicy is a pure predicate over (lastUpdate, now). The store acts on
// the result; the policy itself mutates nothing.
type ResetPolicy struct {
	Mode        string // daily, idle, both
	AtHour      int    // 每日重置的本地小时 / local hour for the daily cutover (0-23)
	IdleMinutes int    // 0 表示禁用 idle 触发 / 0 disables the idle trigger
}

// DefaultResetPolicy 默认每日凌晨 4 点重置 / daily reset at 4 AM local time
func DefaultResetPolicy() ResetPolicy {
	return ResetPolicy{Mode: ResetDaily, AtHour: 4}
}

// IsExpired 返回会话是否应当重启。每日切换点为闭下界：恰好等于切换时刻不算过期。
// IsExpired reports whether the session should restart. The daily cutover is
// a closed lower bound: lastUpdate exactly at the cutover instant is not expired.
func (p ResetPolicy) IsExpired(lastUpdate, now time.Time) bool {
	if p.Mode == ResetDaily || p.Mode == ResetBoth {
		cutover := time.Date(now.Year(), now.Month(), now.Day(), p.AtHour, 0, 0, 0, now.Location())
		if now.Before(cutover) {
			cutover = cutover.AddDate(0, 0, -1)
		}
		if lastUpdate.Before(cutover) {
			return true
		}
	}
	if (p.Mode == ResetIdle || p.Mode == ResetBoth) && p.IdleMinutes > 0 {
		if now.Sub(lastUpdate) > time.Duration(p.IdleMinutes)*time.Minute {
			return true
		}
	}
	return false
}
