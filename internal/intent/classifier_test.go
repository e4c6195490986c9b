package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/llm"
	"github.com/wolfman30/patientpal/internal/operations"
)

// scripted replies with one canned text per call and records requests.
type scripted struct {
	replies  []string
	requests []llm.Request
}

func (s *scripted) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return llm.Response{}, errors.New("no scripted reply left")
	}
	text := s.replies[0]
	s.replies = s.replies[1:]
	return llm.Response{Text: text}, nil
}

func newTestClassifier(replies ...string) (*Classifier, *scripted) {
	client := &scripted{replies: replies}
	return NewClassifier(client, operations.Default()), client
}

func TestSlotFillingConvergesToResolved(t *testing.T) {
	c, client := newTestClassifier(
		`{"category":"INCOMPLETE","operation":"CREATE_APPOINTMENT","args":{"doctor_name":"Dr. Smith"},"response":"Which specialty and date would you like?"}`,
		"```json\n"+`{"category":"CREATE_APPOINTMENT","args":{"specialty":"Cardiology","date":"2025-07-05","time":"14:00","patient_name":"John Appleseed","patient_id":"1234854545"},"response":"Your appointment is booked. The id is <1>."}`+"\n```",
	)
	ctx := context.Background()

	first, err := c.Classify(ctx, nil, "I want to see Dr. Smith", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Incomplete, first.Kind)
	assert.Equal(t, "Which specialty and date would you like?", first.Reply)
	assert.Equal(t, operations.NameCreateAppointment, first.Pending.Operation)
	assert.Equal(t, "Dr. Smith", first.Pending.Args["doctor_name"])

	transcript := []history.Turn{history.UserTurn("I want to see Dr. Smith"), history.ModelTurn(first.Reply, nil)}
	second, err := c.Classify(ctx, transcript, "Cardiology on 2025-07-05 at 14:00 for John Appleseed, id 1234854545", first.Pending)
	require.NoError(t, err)
	require.Equal(t, Resolved, second.Kind)
	assert.True(t, second.Pending.Empty())
	assert.Equal(t, "Your appointment is booked. The id is <1>.", second.Reply)

	op, ok := second.Operation.(operations.CreateAppointment)
	require.True(t, ok)
	assert.Equal(t, "Dr. Smith", op.DoctorName)
	assert.Equal(t, "1234854545", op.PatientID)

	require.Len(t, client.requests, 2)
	last := client.requests[1]
	require.Len(t, last.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, last.Messages[1].Role)
	assert.Contains(t, last.Messages[2].Content, `"doctor_name":"Dr. Smith"`)
	assert.True(t, last.JSON)
	assert.Contains(t, strings.Join(last.System, "\n"), "GET_NEXT_AVAILABLE_TIMESLOT_FOR_APPOINTMENT")
}

func TestUnrecognizedKeepsPending(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"UNRECOGNIZED","response":"I can only help with appointments. What would you like to do?"}`)
	pending := Pending{Operation: operations.NameCancelAppointment, Args: map[string]string{}}

	out, err := c.Classify(context.Background(), nil, "What's the weather?", pending)
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, out.Kind)
	assert.Equal(t, "I can only help with appointments. What would you like to do?", out.Reply)
	assert.Equal(t, operations.NameCancelAppointment, out.Pending.Operation)
}

func TestUnknownCategoryUsesDefaultPrompt(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"WEATHER_REPORT","response":""}`)
	out, err := c.Classify(context.Background(), nil, "What's the weather?", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, out.Kind)
	assert.Equal(t, DefaultClarification, out.Reply)
	assert.Nil(t, out.Operation)
}

func TestRelativeDateIsReaskedNotDispatched(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"RESCHEDULE_APPOINTMENT","args":{"appointment_id":"123456","new_date":"tomorrow","new_time":"10:00"},"response":"Rescheduled."}`)

	out, err := c.Classify(context.Background(), nil, "Move 123456 to tomorrow at 10", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Incomplete, out.Kind)
	assert.Nil(t, out.Operation)
	assert.Contains(t, out.Reply, "new date")
	_, kept := out.Pending.Args["new_date"]
	assert.False(t, kept)
	assert.Equal(t, "123456", out.Pending.Args["appointment_id"])
}

func TestVagueDoctorIsReasked(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"GET_NEXT_AVAILABLE_TIMESLOT_FOR_APPOINTMENT","args":{"doctor_name":"any doctor","specialty":"Cardiology","date":"2025-07-05"},"response":"Slots: <1>"}`)
	out, err := c.Classify(context.Background(), nil, "any cardiologist on 2025-07-05", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Incomplete, out.Kind)
	assert.Contains(t, out.Reply, "doctor name")
}

func TestMissingArgumentsGenerateQuestion(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"GET_NEXT_AVAILABLE_TIMESLOT_FOR_APPOINTMENT","args":{"doctor_name":"Dr. Smith"},"response":"Here are the slots: <1>"}`)
	out, err := c.Classify(context.Background(), nil, "When is Dr. Smith free?", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Incomplete, out.Kind)
	assert.Equal(t, "To list open time slots for a doctor on a date I still need the specialty and date. Could you provide them?", out.Reply)
}

func TestUnrelatedOperationDiscardsPending(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"CANCEL_APPOINTMENT","args":{"appointment_id":"123456"},"response":"Your appointment has been cancelled."}`)
	pending := Pending{
		Operation: operations.NameCreateAppointment,
		Args:      map[string]string{"doctor_name": "Dr. Smith", "specialty": "Cardiology"},
	}

	out, err := c.Classify(context.Background(), nil, "Actually just cancel 123456", pending)
	require.NoError(t, err)
	require.Equal(t, Resolved, out.Kind)
	assert.Equal(t, operations.CancelAppointment{AppointmentID: "123456"}, out.Operation)
	assert.Equal(t, "Dr. Smith", pending.Args["doctor_name"], "caller's pending must not be mutated")
}

func TestTemplateMismatchFallsBackToGeneric(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"GET_APPOINTMENT_DETAILS","args":{"appointment_id":"123456"},"response":"Your appointment is with <doctor_name> at <1>."}`)
	out, err := c.Classify(context.Background(), nil, "details for 123456", Pending{})
	require.NoError(t, err)
	require.Equal(t, Resolved, out.Kind)
	def, _ := operations.Default().Lookup(operations.NameGetAppointmentDetails)
	assert.Equal(t, GenericTemplate(def), out.Reply)
}

func TestNoArgumentOperationResolvesImmediately(t *testing.T) {
	c, _ := newTestClassifier(`{"category":"GET_SERVICES","args":{},"response":"Here is what we offer."}`)
	out, err := c.Classify(context.Background(), nil, "what services do you have?", Pending{})
	require.NoError(t, err)
	assert.Equal(t, Resolved, out.Kind)
	assert.Equal(t, operations.GetServices{}, out.Operation)
}

func TestClassifierTimeout(t *testing.T) {
	slow := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})
	c := NewClassifier(slow, nil, WithTimeout(10*time.Millisecond))

	_, err := c.Classify(context.Background(), nil, "hello", Pending{})
	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Timeout)
}

func TestMalformedReplyIsClassificationError(t *testing.T) {
	c, _ := newTestClassifier("I'd be happy to help you book!")
	_, err := c.Classify(context.Background(), nil, "book please", Pending{})
	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Timeout)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestHistoryLimitTrimsOldestTurns(t *testing.T) {
	client := &scripted{replies: []string{`{"category":"UNRECOGNIZED","response":"Could you rephrase?"}`}}
	c := NewClassifier(client, nil, WithHistoryLimit(2))
	transcript := []history.Turn{
		history.UserTurn("one"), history.ModelTurn("two", nil),
		history.UserTurn("three"), history.ModelTurn("four", nil),
	}
	_, err := c.Classify(context.Background(), transcript, "five", Pending{})
	require.NoError(t, err)
	msgs := client.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "five", msgs[2].Content)
}

func TestUnansweredUserTurnIsFoldedIntoUtterance(t *testing.T) {
	c, client := newTestClassifier(`{"category":"UNRECOGNIZED","response":"Could you rephrase?"}`)
	transcript := []history.Turn{
		history.ModelTurn("orphaned greeting", nil),
		history.UserTurn("hi"), history.ModelTurn("hello", nil),
		history.UserTurn("book me"),
	}
	_, err := c.Classify(context.Background(), transcript, "with Dr. Smith", Pending{})
	require.NoError(t, err)

	msgs := client.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hi"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "hello"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "book me\nwith Dr. Smith"}, msgs[2])
}
