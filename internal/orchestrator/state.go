package orchestrator

// Verdict 是评估节点给出的路由结论。
type Verdict string

const (
	VerdictOK          Verdict = "ok"
	VerdictDone        Verdict = "done"
	VerdictNeedsReplan Verdict = "needs_replan"
)

func (v Verdict) valid() bool {
	switch v {
	case VerdictOK, VerdictDone, VerdictNeedsReplan:
		return true
	default:
		return false
	}
}

// State 是在节点之间传递的编排状态。
type State struct {
	Task               string
	Plan               []string
	CurrentStep        int
	StepResults        []string
	FinalResult        string
	Context            map[string]string
	BrowserContext     map[string]any
	Verdict            Verdict
	TotalStepsExecuted int
	NodeVisits         int
}

// Update 是单个节点产生的部分状态。
//
// 合并规则：Plan、Context、BrowserContext 非 nil 时整体替换；
// StepResults 追加；AdvanceStep、StepsExecuted 累加；
// Verdict、FinalResult 非零值时覆盖。
type Update struct {
	Plan           []string
	StepResults    []string
	AdvanceStep    int
	StepsExecuted  int
	Verdict        Verdict
	FinalResult    string
	Context        map[string]string
	BrowserContext map[string]any
}

func (s *State) apply(u Update) {
	if u.Plan != nil {
		s.Plan = append([]string(nil), u.Plan...)
	}
	if len(u.StepResults) > 0 {
		s.StepResults = append(s.StepResults, u.StepResults...)
	}
	s.CurrentStep += u.AdvanceStep
	if s.CurrentStep > len(s.Plan) {
		s.CurrentStep = len(s.Plan)
	}
	s.TotalStepsExecuted += u.StepsExecuted
	if u.Verdict != "" {
		s.Verdict = u.Verdict
	}
	if u.FinalResult != "" {
		s.FinalResult = u.FinalResult
	}
	if u.Context != nil {
		s.Context = u.Context
	}
	if u.BrowserContext != nil {
		s.BrowserContext = u.BrowserContext
	}
}

func (s State) stepsRemain() bool {
	return s.CurrentStep < len(s.Plan)
}

// Limits 约束单次编排的资源消耗。零值字段使用默认值。
type Limits struct {
	MaxToolIterations      int
	MaxConsecutiveFailures int
	ObservationLimit       int
	StepCap                int
	NodeVisitBail          int
}

// DefaultLimits 返回默认限制。
func DefaultLimits() Limits {
	return Limits{
		MaxToolIterations:      10,
		MaxConsecutiveFailures: 3,
		ObservationLimit:       4000,
		StepCap:                15,
		NodeVisitBail:          27,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxToolIterations <= 0 {
		l.MaxToolIterations = def.MaxToolIterations
	}
	if l.MaxConsecutiveFailures <= 0 {
		l.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if l.ObservationLimit <= 0 {
		l.ObservationLimit = def.ObservationLimit
	}
	if l.StepCap <= 0 {
		l.StepCap = def.StepCap
	}
	if l.NodeVisitBail <= 0 {
		l.NodeVisitBail = def.NodeVisitBail
	}
	return l
}
