package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/llm"
	"github.com/wolfman30/patientpal/internal/operations"
)

const systemInstructions = `You are a helpful assistant helping people manage their appointments in a hospital.
When the user asks something, classify the request into exactly one category of the operation map below.
After classification a function runs the requested operation, so you must also provide its arguments.

Rules:
- Ask for any missing information. Do as many follow-up questions as you need.
- Do not accept vague information such as "any doctor" or "any time".
- Dates must be exact calendar dates written as YYYY-MM-DD. Words like "today", "tomorrow" or "next week" are not allowed.
- Times must be exact clock times written as HH:MM in 24-hour form. Words like "noon" or "morning" are not allowed.
- If the category has return values, the response must contain one indexed placeholder per return value: <1>, <2>, ... in the order listed. Never invent the values yourself.
- If the category has no return values, the response must not contain placeholders.

While information is still missing, reply with:
{"category": "INCOMPLETE", "operation": "<category you are collecting for>", "args": {<arguments collected so far>}, "response": "<your follow-up question>"}

If the request is unclear or does not belong to any category, reply with:
{"category": "UNRECOGNIZED", "response": "<ask the user to rephrase>"}

Once every argument is known, reply with:
{"category": "<category>", "args": {"arg1": "<value1>", "arg2": "<value2>"}, "response": "<human readable response with placeholders>"}

Example:
User: Which times are free with Dr. Smith in Cardiology on 2025-07-05?
Assistant: {"category": "GET_NEXT_AVAILABLE_TIMESLOT_FOR_APPOINTMENT", "args": {"doctor_name": "Dr. Smith", "specialty": "Cardiology", "date": "2025-07-05"}, "response": "Here are the available time slots with Dr. Smith in Cardiology on 2025-07-05: <1>. Please let me know which one works for you."}

Reply with the JSON object only.`

// buildRequest assembles the classifier prompt: instructions and catalog as
// system text, the transcript as history, then the utterance annotated with
// what has been collected so far. Messages strictly alternate and open with
// the user, so an unanswered user turn left in the transcript is folded into
// the next user message.
func buildRequest(registry *operations.Registry, transcript []history.Turn, utterance string, pending Pending, model string) llm.Request {
	messages := make([]llm.Message, 0, len(transcript)+1)
	for _, turn := range transcript {
		role := llm.RoleUser
		if turn.Role == history.RoleModel {
			role = llm.RoleAssistant
		}
		text := turn.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(messages) == 0 && role == llm.RoleAssistant {
			continue
		}
		messages = appendMessage(messages, role, text)
	}
	messages = appendMessage(messages, llm.RoleUser, annotate(utterance, pending))

	return llm.Request{
		Model: model,
		System: []string{
			systemInstructions,
			"Operation map (argument placeholders show name:kind):\n" + registry.Catalog(),
		},
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.2,
		JSON:        true,
	}
}

func appendMessage(messages []llm.Message, role, text string) []llm.Message {
	if n := len(messages); n > 0 && messages[n-1].Role == role {
		messages[n-1].Content += "\n" + text
		return messages
	}
	return append(messages, llm.Message{Role: role, Content: text})
}

func annotate(utterance string, pending Pending) string {
	if pending.Empty() {
		return utterance
	}
	args, err := json.Marshal(pending.Args)
	if err != nil {
		return utterance
	}
	op := string(pending.Operation)
	if op == "" {
		op = "unknown"
	}
	return fmt.Sprintf("%s\n\n[Collected so far for %s: %s]", utterance, op, args)
}
