package reconciler

import "github.com/you-humble/musicgen/internal/domain"

// progressGate forwards progress observations that do not move backwards.
// Observations arrive from two sources with no ordering between them, so a
// stale backstop answer may trail a fresher webhook delivery.
type progressGate struct {
	next func(domain.Progress)

	seen    bool
	rank    int
	percent float64
	hasPct  bool
	last    string
}

func (g *progressGate) offer(p domain.Progress) {
	if g.next == nil {
		return
	}

	rank := statusRank(p.Status)
	pct, hasPct := domain.ParseProgress(p.Progress)

	if g.seen {
		switch {
		case rank < g.rank:
			return
		case hasPct && g.hasPct && pct < g.percent:
			return
		case rank == g.rank && p.Progress == g.last && !hasPct && !g.hasPct:
			return
		}
	}

	g.seen = true
	g.rank = rank
	g.last = p.Progress
	if hasPct {
		g.percent, g.hasPct = pct, true
	}
	g.next(p)
}

func statusRank(s domain.TaskStatus) int {
	switch s {
	case domain.StatusProcessing:
		return 1
	case domain.StatusSuccess, domain.StatusFailure:
		return 2
	}
	return 0
}
