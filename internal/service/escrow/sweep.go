package escrow

import (
	"time"

	"trancheflow/internal/model"
)

// sweepExpired 把截止时间已过的未结束里程碑置为 EXPIRED，返回新增的审计条目
// 重复调用是幂等的：已过期的里程碑不会再产生条目
func sweepExpired(p *model.Project, now time.Time, newID func() string) []model.AuditEntry {
	var entries []model.AuditEntry
	for i := range p.Milestones {
		m := &p.Milestones[i]
		if m.Status.Terminal() || !m.Deadline.Before(now) {
			continue
		}
		entry, err := fire(p, i, TransitionExpire, transitionInput{}, now, newID)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
