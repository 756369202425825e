// Package flow implements the PIN flow session: an ordered list of pages,
// each with its own entry buffer, and the transitions between them.
//
// A Session performs no I/O. When a page completes it returns a Step telling
// the caller what to do next (commit a new PIN, validate an entered PIN, or
// nothing); the caller reports the result back through Succeed, Fail or Retry.
package flow

import (
	"crypto/subtle"
	"errors"

	"github.com/MrEthical07/goPin/pinpad"
)

// Kind identifies the flow a session drives.
type Kind uint8

const (
	// KindSet is the two-page set/confirm flow.
	KindSet Kind = iota
	// KindUnlock is the single-page recurring unlock flow.
	KindUnlock
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindUnlock:
		return "unlock"
	default:
		return "unknown"
	}
}

// Role tags a page within its flow.
type Role uint8

const (
	RoleEnter Role = iota
	RoleConfirm
)

func (r Role) String() string {
	if r == RoleConfirm {
		return "confirm"
	}
	return "enter"
}

// Status is the session state.
type Status uint8

const (
	StatusAwaitingInput Status = iota
	StatusCommitting
	StatusResolved
)

// Outcome is set once the session reaches StatusResolved.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Action tells the caller what a Step requires.
type Action uint8

const (
	// ActionFill means only the fill count changed.
	ActionFill Action = iota
	// ActionAdvance means the Enter page completed and Confirm is now active.
	ActionAdvance
	// ActionMismatch means Confirm disagreed with Enter; the flow restarted at Enter.
	ActionMismatch
	// ActionCommit means Step.PIN must be saved.
	ActionCommit
	// ActionValidate means Step.PIN must be validated.
	ActionValidate
)

var (
	// ErrResolved is returned for any operation on a resolved session.
	ErrResolved = errors.New("flow session resolved")
	// ErrBusy is returned for input while a commit or validation is outstanding.
	ErrBusy = errors.New("flow session busy")
	// ErrNotCommitting is returned when a result arrives with nothing outstanding.
	ErrNotCommitting = errors.New("flow session not committing")
)

// Prompts carries opaque prompt identifiers for the view.
type Prompts struct {
	Enter   string
	Confirm string
	Unlock  string
}

// PageInfo describes a page for rendering.
type PageInfo struct {
	Index  int
	Role   Role
	Prompt string
	Length int
}

// Step is the result of an input event.
type Step struct {
	Action Action
	// Page is the active page after the step.
	Page int
	// Buffer is the state of the page that received the input.
	Buffer pinpad.State
	// PIN is set for ActionCommit and ActionValidate only.
	PIN string
}

type page struct {
	role   Role
	prompt string
	buffer *pinpad.Buffer
}

// Session is one Set or Unlock interaction. It is not safe for concurrent
// use; the controller owns it from a single goroutine.
type Session struct {
	id      string
	kind    Kind
	pages   []*page
	index   int
	status  Status
	outcome Outcome
	carried []byte
}

// NewSet returns a session with Enter and Confirm pages.
func NewSet(id string, length int, prompts Prompts) *Session {
	return &Session{
		id:   id,
		kind: KindSet,
		pages: []*page{
			{role: RoleEnter, prompt: prompts.Enter, buffer: pinpad.New(length)},
			{role: RoleConfirm, prompt: prompts.Confirm, buffer: pinpad.New(length)},
		},
	}
}

// NewUnlock returns a session with a single page.
func NewUnlock(id string, length int, prompts Prompts) *Session {
	return &Session{
		id:   id,
		kind: KindUnlock,
		pages: []*page{
			{role: RoleEnter, prompt: prompts.Unlock, buffer: pinpad.New(length)},
		},
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Kind() Kind       { return s.kind }
func (s *Session) Status() Status   { return s.status }
func (s *Session) Outcome() Outcome { return s.outcome }
func (s *Session) PageIndex() int   { return s.index }

// Pages lists the pages in flow order.
func (s *Session) Pages() []PageInfo {
	out := make([]PageInfo, len(s.pages))
	for i, p := range s.pages {
		out[i] = PageInfo{Index: i, Role: p.role, Prompt: p.prompt, Length: p.buffer.Length()}
	}
	return out
}

// Filled returns the digit count of the active page.
func (s *Session) Filled() int {
	return s.pages[s.index].buffer.Len()
}

// Append feeds a digit to the active page.
func (s *Session) Append(d int) (Step, error) {
	if err := s.checkInput(); err != nil {
		return Step{Page: s.index}, err
	}

	cur := s.pages[s.index]
	st, err := cur.buffer.Append(d)
	if err != nil {
		return Step{Page: s.index, Buffer: st}, err
	}
	if !st.Completed {
		return Step{Action: ActionFill, Page: s.index, Buffer: st}, nil
	}

	switch {
	case s.kind == KindUnlock:
		return s.beginCommit(ActionValidate, st), nil
	case cur.role == RoleEnter:
		s.carried = append(s.carried[:0], cur.buffer.Value()...)
		cur.buffer.Reset()
		s.index = 1
		return Step{Action: ActionAdvance, Page: s.index, Buffer: st}, nil
	default:
		if subtle.ConstantTimeCompare(s.carried, []byte(cur.buffer.Value())) == 1 {
			return s.beginCommit(ActionCommit, st), nil
		}
		s.restart()
		return Step{Action: ActionMismatch, Page: s.index, Buffer: st}, nil
	}
}

// Delete removes the last digit of the active page. Deleting on Confirm never
// touches the value carried from Enter.
func (s *Session) Delete() (Step, error) {
	if err := s.checkInput(); err != nil {
		return Step{Page: s.index}, err
	}
	st, err := s.pages[s.index].buffer.DeleteLast()
	if err != nil {
		return Step{Page: s.index, Buffer: st}, err
	}
	return Step{Action: ActionFill, Page: s.index, Buffer: st}, nil
}

// Retry returns a committing session to input. Unlock sessions clear their
// page; Set sessions restart at Enter with both pages empty.
func (s *Session) Retry() error {
	if s.status == StatusResolved {
		return ErrResolved
	}
	if s.status != StatusCommitting {
		return ErrNotCommitting
	}
	if s.kind == KindSet {
		s.restart()
	} else {
		s.pages[s.index].buffer.Reset()
	}
	s.status = StatusAwaitingInput
	return nil
}

// Succeed resolves the session with OutcomeSuccess. It is valid while
// committing and, for biometric unlock, while awaiting input.
func (s *Session) Succeed() error {
	return s.resolve(OutcomeSuccess)
}

// Fail resolves the session with OutcomeFailed, e.g. after a storage error.
func (s *Session) Fail() error {
	return s.resolve(OutcomeFailed)
}

// Cancel resolves the session with OutcomeCancelled. It is valid while a
// commit or validation is outstanding; the caller discards the late result.
func (s *Session) Cancel() error {
	return s.resolve(OutcomeCancelled)
}

func (s *Session) checkInput() error {
	switch s.status {
	case StatusResolved:
		return ErrResolved
	case StatusCommitting:
		return ErrBusy
	default:
		return nil
	}
}

func (s *Session) beginCommit(action Action, st pinpad.State) Step {
	cur := s.pages[s.index]
	pin := cur.buffer.Value()
	cur.buffer.Lock()
	s.status = StatusCommitting
	return Step{Action: action, Page: s.index, Buffer: st, PIN: pin}
}

func (s *Session) restart() {
	for _, p := range s.pages {
		p.buffer.Reset()
	}
	s.wipeCarried()
	s.index = 0
}

func (s *Session) resolve(outcome Outcome) error {
	if s.status == StatusResolved {
		return ErrResolved
	}
	for _, p := range s.pages {
		p.buffer.Reset()
	}
	s.wipeCarried()
	s.status = StatusResolved
	s.outcome = outcome
	return nil
}

func (s *Session) wipeCarried() {
	for i := range s.carried {
		s.carried[i] = 0
	}
	s.carried = s.carried[:0]
}
