// Package infer maps inbound business events to the ordered action tokens
// that drive the floor-map visualization. It is pure: no I/O, no clock, no
// store access; the same event always yields the same token sequence.
package infer

import "strings"

// Verb is one kind of visual/state effect.
type Verb string

const (
	VerbWalkTo       Verb = "walk_to"
	VerbHandoff      Verb = "handoff"
	VerbReturn       Verb = "return"
	VerbStatus       Verb = "status"
	VerbTaskComplete Verb = "task_complete"
	VerbAcknowledge  Verb = "acknowledge"
	VerbCustom       Verb = "custom"
)

// Action is one inferred token: an agent, what it does, and an optional
// argument (the target agent for walk_to/handoff, the status name for
// status, the event name for custom).
type Action struct {
	Agent string
	Verb  Verb
	Arg   string
}

// String renders the token in the log form "agent:verb:arg". The structured
// form is authoritative; the string is what lands in the activity feed.
func (a Action) String() string {
	if a.Arg == "" {
		return a.Agent + ":" + string(a.Verb)
	}
	return a.Agent + ":" + string(a.Verb) + ":" + a.Arg
}

// Strings renders a token sequence for the event log.
func Strings(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.String()
	}
	return out
}

// courierTypes model one agent delivering work to another: walk over, hand
// off, come back. The walk sequence only makes sense with a target.
var courierTypes = map[string]bool{
	"WORK_REQUEST":   true,
	"WORK_COMPLETE":  true,
	"REVIEW_REQUEST": true,
	"FEEDBACK":       true,
	"MESSAGE_SEND":   true,
}

// directStatusTypes map 1:1 to a lower-cased status name.
var directStatusTypes = map[string]string{
	"THINKING":   "thinking",
	"WORKING":    "working",
	"EXECUTING":  "executing",
	"IDLE":       "idle",
	"ERROR":      "error",
	"CODING":     "coding",
	"DISCUSSING": "discussing",
	"REVIEWING":  "reviewing",
	"BREAK":      "break",
}

// Canonical returns the stored form of an event type. Matching is
// case-insensitive; the event table and the projector must agree on one
// spelling, so everything is upper-cased.
func Canonical(eventType string) string {
	return strings.ToUpper(eventType)
}

// Infer produces the ordered action tokens for one event. It is total:
// every syntactically valid event yields at least one token.
func Infer(eventType, agentID string, toAgent *string, payload map[string]any) []Action {
	et := Canonical(eventType)

	if courierTypes[et] {
		if toAgent == nil || *toAgent == "" {
			// Nobody to deliver to: degrade to plain work status.
			return []Action{{Agent: agentID, Verb: VerbStatus, Arg: "working"}}
		}
		target := *toAgent
		return []Action{
			{Agent: agentID, Verb: VerbWalkTo, Arg: target},
			{Agent: agentID, Verb: VerbHandoff, Arg: target},
			{Agent: agentID, Verb: VerbReturn},
			{Agent: target, Verb: VerbStatus, Arg: "working"},
		}
	}

	if status, ok := directStatusTypes[et]; ok {
		return []Action{{Agent: agentID, Verb: VerbStatus, Arg: status}}
	}

	switch et {
	case "TASK_COMPLETE":
		// Status change plus a fire-once cue for the client animation.
		return []Action{
			{Agent: agentID, Verb: VerbStatus, Arg: "idle"},
			{Agent: agentID, Verb: VerbTaskComplete},
		}
	case "MESSAGE_RECEIVE":
		return []Action{{Agent: agentID, Verb: VerbAcknowledge}}
	case "CUSTOM_EVENT":
		name := stringField(payload, "event_name")
		if name == "" {
			name = "custom"
		}
		return []Action{{Agent: agentID, Verb: VerbCustom, Arg: name}}
	}

	// Unknown type: trust the sender's agent_state hint, default to working.
	state := stringField(payload, "agent_state")
	if state == "" {
		state = "working"
	}
	return []Action{{Agent: agentID, Verb: VerbStatus, Arg: state}}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
