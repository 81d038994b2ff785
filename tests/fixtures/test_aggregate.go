// Package fixtures provides a small event-sourced aggregate and view shared by tests.
package fixtures

import (
	"context"
	"slices"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
)

// AggregateType is the type name of TestAggregate.
const AggregateType = "test"

// Event type names
const (
	EventCreated       = "test.created"
	EventTested        = "test.tested"
	EventSomethingElse = "test.something_else"
)

// ErrTestAlreadyPerformed is returned when the same test is confirmed twice.
const ErrTestAlreadyPerformed = appcore.UserError("test already performed")

// TestEvent is the event family of TestAggregate.
type TestEvent interface {
	event.Event
	isTestEvent()
}

// Created marks the creation of the aggregate.
type Created struct {
	ID string `json:"id"`
}

func (*Created) EventType() string    { return EventCreated }
func (*Created) EventVersion() string { return "1.0" }
func (*Created) isTestEvent()         {}

// Tested records a performed test.
type Tested struct {
	TestName string `json:"test_name"`
}

func (*Tested) EventType() string    { return EventTested }
func (*Tested) EventVersion() string { return "1.0" }
func (*Tested) isTestEvent()         {}

// SomethingElse changes the description.
type SomethingElse struct {
	Description string `json:"description"`
}

func (*SomethingElse) EventType() string    { return EventSomethingElse }
func (*SomethingElse) EventVersion() string { return "1.0" }
func (*SomethingElse) isTestEvent()         {}

// EventConstructors returns constructors for every TestEvent, for codec registration.
func EventConstructors() []func() TestEvent {
	return []func() TestEvent{
		func() TestEvent { return &Created{} },
		func() TestEvent { return &Tested{} },
		func() TestEvent { return &SomethingElse{} },
	}
}

// TestCommand is the command family of TestAggregate.
type TestCommand interface {
	isTestCommand()
}

// CreateTest creates the aggregate.
type CreateTest struct {
	ID string
}

// ConfirmTest records a test run; a name may be confirmed only once.
type ConfirmTest struct {
	TestName string
}

// DoSomethingElse updates the description.
type DoSomethingElse struct {
	Description string
}

func (CreateTest) isTestCommand()      {}
func (ConfirmTest) isTestCommand()     {}
func (DoSomethingElse) isTestCommand() {}

// TestServices is the (empty) service bundle passed to Handle.
type TestServices struct{}

// TestAggregate is a minimal aggregate: an id, a description and performed tests.
type TestAggregate struct {
	ID          string
	Description string
	Tests       []string
}

// NewTestAggregate returns the default state.
func NewTestAggregate() *TestAggregate {
	return &TestAggregate{}
}

var _ aggregate.Aggregate[TestCommand, TestEvent, TestServices] = (*TestAggregate)(nil)

// AggregateType returns the aggregate type name.
func (a *TestAggregate) AggregateType() string {
	return AggregateType
}

// Handle decides the events implied by cmd.
func (a *TestAggregate) Handle(_ context.Context, cmd TestCommand, _ TestServices) ([]TestEvent, error) {
	switch c := cmd.(type) {
	case CreateTest:
		return []TestEvent{&Created{ID: c.ID}}, nil
	case ConfirmTest:
		if slices.Contains(a.Tests, c.TestName) {
			return nil, ErrTestAlreadyPerformed
		}
		return []TestEvent{&Tested{TestName: c.TestName}}, nil
	case DoSomethingElse:
		return []TestEvent{&SomethingElse{Description: c.Description}}, nil
	default:
		return nil, appcore.NewUserError("unknown command")
	}
}

// Apply mutates state with one event.
func (a *TestAggregate) Apply(evt TestEvent) {
	switch e := evt.(type) {
	case *Created:
		a.ID = e.ID
	case *Tested:
		a.Tests = append(a.Tests, e.TestName)
	case *SomethingElse:
		a.Description = e.Description
	}
}

// TestView is a serializable view over TestAggregate events.
type TestView struct {
	Tests       []string `json:"tests"`
	Description string   `json:"description"`
	Sequences   []int    `json:"sequences"`
	Count       int      `json:"count"`
}

// NewTestView returns an empty view.
func NewTestView() *TestView {
	return &TestView{}
}

// Update folds one envelope into the view.
func (v *TestView) Update(env event.Envelope[TestEvent]) {
	v.Count++
	v.Sequences = append(v.Sequences, env.Sequence)
	switch e := env.Payload.(type) {
	case *Tested:
		v.Tests = append(v.Tests, e.TestName)
	case *SomethingElse:
		v.Description = e.Description
	}
}

// DeliveredQuery records every envelope dispatched to it. Safe for concurrent use.
type DeliveredQuery struct {
	mu         sync.Mutex
	delivered  []event.Envelope[TestEvent]
	calls      int
	onDispatch func(viewID string, envelopes []event.Envelope[TestEvent])
}

// NewDeliveredQuery creates a recording query.
func NewDeliveredQuery() *DeliveredQuery {
	return &DeliveredQuery{}
}

// OnDispatch installs a hook invoked before the envelopes are recorded.
func (q *DeliveredQuery) OnDispatch(fn func(viewID string, envelopes []event.Envelope[TestEvent])) *DeliveredQuery {
	q.onDispatch = fn
	return q
}

// Dispatch records envelopes.
func (q *DeliveredQuery) Dispatch(_ context.Context, viewID string, envelopes []event.Envelope[TestEvent]) {
	if q.onDispatch != nil {
		q.onDispatch(viewID, envelopes)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.delivered = append(q.delivered, envelopes...)
}

// Delivered returns a copy of all recorded envelopes.
func (q *DeliveredQuery) Delivered() []event.Envelope[TestEvent] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.delivered)
}

// Calls returns the number of Dispatch invocations.
func (q *DeliveredQuery) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// TestMetadata returns the metadata used across scenarios.
func TestMetadata() map[string]string {
	return map[string]string{"time": "2021-01-01T00:00:00Z"}
}
