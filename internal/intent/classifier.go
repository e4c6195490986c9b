// Package intent turns a user utterance into a catalog operation, collecting
// missing arguments over several turns before anything is executed.
package intent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/llm"
	"github.com/wolfman30/patientpal/internal/observability/metrics"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/pkg/logging"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultHistoryLimit = 40

	// DefaultClarification is sent when the provider gives no usable prompt
	// for an unrecognized request.
	DefaultClarification = "Sorry, I didn't understand that. I can book, cancel, reschedule or look up appointments and find open time slots. Could you rephrase your request?"
)

var classifierTracer = otel.Tracer("patientpal.internal.intent")

// Pending is the partially collected request of a session. It lives only in
// memory.
type Pending struct {
	Operation operations.Name
	Args      map[string]string
}

func (p Pending) Empty() bool {
	return p.Operation == "" && len(p.Args) == 0
}

func (p Pending) clone() Pending {
	out := Pending{Operation: p.Operation, Args: make(map[string]string, len(p.Args))}
	maps.Copy(out.Args, p.Args)
	return out
}

type OutcomeKind int

const (
	// Incomplete asks the user for more information.
	Incomplete OutcomeKind = iota + 1
	// Unrecognized asks the user to rephrase.
	Unrecognized
	// Resolved carries a validated operation and its reply template.
	Resolved
)

func (k OutcomeKind) String() string {
	switch k {
	case Incomplete:
		return "incomplete"
	case Unrecognized:
		return "unrecognized"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Outcome is the result of one classification. Reply is the question for
// Incomplete, the prompt for Unrecognized and the result template for
// Resolved. Pending is the state the session keeps afterwards.
type Outcome struct {
	Kind      OutcomeKind
	Reply     string
	Pending   Pending
	Operation operations.Operation
}

// ClassificationError is a provider failure, a timeout or an unusable
// provider reply. The pending intent is unchanged when it is returned.
type ClassificationError struct {
	Timeout bool
	Err     error
}

func (e *ClassificationError) Error() string {
	if e.Timeout {
		return "intent: classification timed out: " + e.Err.Error()
	}
	return "intent: classification failed: " + e.Err.Error()
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Classifier maps utterances onto the operation catalog with a language
// model.
type Classifier struct {
	client       llm.Client
	registry     *operations.Registry
	logger       *logging.Logger
	metrics      *metrics.ChatMetrics
	timeout      time.Duration
	model        string
	historyLimit int
}

type Option func(*Classifier)

func WithLogger(l *logging.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.ChatMetrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

// WithHistoryLimit caps how many recent turns are sent as context.
func WithHistoryLimit(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

func NewClassifier(client llm.Client, registry *operations.Registry, opts ...Option) *Classifier {
	if client == nil {
		panic("intent: llm client cannot be nil")
	}
	if registry == nil {
		registry = operations.Default()
	}
	c := &Classifier{
		client:       client,
		registry:     registry,
		logger:       logging.Default(),
		timeout:      defaultTimeout,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("intent")
	return c
}

// Classify interprets utterance given the earlier transcript and the pending
// intent. It never mutates pending.
func (c *Classifier) Classify(ctx context.Context, transcript []history.Turn, utterance string, pending Pending) (Outcome, error) {
	ctx, span := classifierTracer.Start(ctx, "intent.classify",
		trace.WithAttributes(attribute.String("pending_operation", string(pending.Operation))))
	defer span.End()

	if len(transcript) > c.historyLimit {
		transcript = transcript[len(transcript)-c.historyLimit:]
	}
	req := buildRequest(c.registry, transcript, utterance, pending, c.model)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	resp, err := c.client.Complete(callCtx, req)
	c.metrics.ObserveStage("classify", time.Since(start))
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider error")
		return Outcome{}, &ClassificationError{Timeout: timeout, Err: err}
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", int(resp.Usage.InputTokens)),
		attribute.Int("llm.output_tokens", int(resp.Usage.OutputTokens)),
	)

	out, err := ParseOutput(resp.Text)
	if err != nil {
		c.logger.Warn("intent: unusable provider reply", "error", err, "raw_len", len(resp.Text))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed output")
		return Outcome{}, &ClassificationError{Err: err}
	}

	outcome := c.interpret(out, pending)
	span.SetAttributes(attribute.String("outcome", outcome.Kind.String()))
	if outcome.Operation != nil {
		span.SetAttributes(attribute.String("operation", string(outcome.Operation.Name())))
	}
	return outcome, nil
}

func (c *Classifier) interpret(out Output, pending Pending) Outcome {
	if out.Category == categoryIncomplete {
		return c.incomplete(out, pending)
	}
	name, ok := c.registry.Parse(out.Category)
	if !ok {
		reply := out.Response
		if reply == "" || indexedPlaceholder.MatchString(reply) {
			reply = DefaultClarification
		}
		return Outcome{Kind: Unrecognized, Reply: reply, Pending: pending.clone()}
	}
	return c.resolve(name, out, pending)
}

// incomplete keeps the provider's follow-up question and folds whatever it
// extracted into the pending intent.
func (c *Classifier) incomplete(out Output, pending Pending) Outcome {
	next := pending.clone()
	if name, ok := c.registry.Parse(out.Operation); ok && name != next.Operation {
		if next.Operation != "" {
			next = Pending{Args: map[string]string{}}
		}
		next.Operation = name
	}
	c.mergeArgs(next, out.Args, true)

	reply := out.Response
	if reply == "" {
		reply = c.question(next)
	}
	return Outcome{Kind: Incomplete, Reply: reply, Pending: next}
}

func (c *Classifier) resolve(name operations.Name, out Output, pending Pending) Outcome {
	def, _ := c.registry.Lookup(name)
	next := pending.clone()
	if next.Operation != "" && next.Operation != name {
		c.logger.Info("intent: discarding pending intent for unrelated request",
			"pending_operation", string(next.Operation), "operation", string(name))
		next = Pending{Args: map[string]string{}}
	}
	next.Operation = name
	c.mergeArgs(next, out.Args, false)

	v := c.registry.Validate(name, next.Args)
	switch v.Status {
	case operations.StatusInvalid:
		delete(next.Args, v.Argument)
		return Outcome{
			Kind:    Incomplete,
			Reply:   fmt.Sprintf("I couldn't use the %s you gave: %s. Could you provide it again?", humanize(v.Argument), v.Reason),
			Pending: next,
		}
	case operations.StatusMissing:
		reply := out.Response
		if !isQuestion(reply) {
			reply = missingQuestion(def, v.Missing)
		}
		return Outcome{Kind: Incomplete, Reply: reply, Pending: next}
	}

	op, err := c.registry.Bind(name, next.Args)
	if err != nil {
		c.logger.Error("intent: complete arguments failed to bind", "operation", string(name), "error", err)
		return Outcome{Kind: Incomplete, Reply: c.question(next), Pending: next}
	}

	template := out.Response
	if err := CheckTemplate(template, len(def.ResultFields)); err != nil {
		c.logger.Warn("intent: reply template contract violation",
			"operation", string(name), "error", err)
		template = GenericTemplate(def)
	}
	return Outcome{Kind: Resolved, Reply: template, Operation: op, Pending: Pending{}}
}

// mergeArgs copies non-empty values the operation declares into p.Args. When
// the operation is still unknown any catalog argument is kept. With
// dropInvalid, values that fail their kind's check are left out so the
// question is asked again.
func (c *Classifier) mergeArgs(p Pending, args map[string]string, dropInvalid bool) {
	def, known := c.registry.Lookup(p.Operation)
	for name, value := range args {
		if value == "" {
			continue
		}
		if !known {
			if c.registry.KnowsArgument(name) {
				p.Args[name] = value
			}
			continue
		}
		arg, ok := def.Argument(name)
		if !ok {
			continue
		}
		if _, err := operations.Normalize(arg.Kind, value); err != nil && dropInvalid {
			continue
		}
		p.Args[name] = value
	}
}

func (c *Classifier) question(p Pending) string {
	def, ok := c.registry.Lookup(p.Operation)
	if !ok {
		return DefaultClarification
	}
	v := c.registry.Validate(p.Operation, p.Args)
	if v.Status == operations.StatusMissing {
		return missingQuestion(def, v.Missing)
	}
	return "Could you confirm the details of your request?"
}

func missingQuestion(def operations.Definition, missing []string) string {
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = humanize(m)
	}
	switch len(names) {
	case 0:
		return fmt.Sprintf("To %s I need a few more details. Could you provide them?", def.Description)
	case 1:
		return fmt.Sprintf("To %s I still need the %s. Could you provide it?", def.Description, names[0])
	}
	list := strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	return fmt.Sprintf("To %s I still need the %s. Could you provide them?", def.Description, list)
}

var questionPlaceholder = regexp.MustCompile(`<[^>]*>`)

// isQuestion reports whether provider text can stand in as a follow-up
// question: it asks something and carries no placeholders.
func isQuestion(text string) bool {
	return strings.Contains(text, "?") && !questionPlaceholder.MatchString(text)
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
