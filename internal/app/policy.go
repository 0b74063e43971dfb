package app

// WriteFailureAction tells the fan-out what to do after a frame write fails.
type WriteFailureAction int

const (
	NoAction WriteFailureAction = iota
	MarkSlow
	CloseSession
)

type Policy interface {
	OnWriteFailure(s *Session, consecutive int) WriteFailureAction
}

// SimplePolicy mutes a session after SlowAfter consecutive failures and
// closes it after CloseAfter. Zero disables the step.
type SimplePolicy struct {
	SlowAfter  int
	CloseAfter int
}

func (p SimplePolicy) OnWriteFailure(_ *Session, consecutive int) WriteFailureAction {
	switch {
	case p.CloseAfter > 0 && consecutive >= p.CloseAfter:
		return CloseSession
	case p.SlowAfter > 0 && consecutive >= p.SlowAfter:
		return MarkSlow
	default:
		return NoAction
	}
}
