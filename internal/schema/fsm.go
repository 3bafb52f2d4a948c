package schema

import (
	"fmt"
	"sort"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type FSMState struct {
	Code                  string   `json:"code"`
	RequiresRelationships []string `json:"requires_relationships,omitempty"`
	Terminal              bool     `json:"terminal,omitempty"`
}

type Transition struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action"`
}

// FSM is the lifecycle machine attached to an entity type.
type FSM struct {
	URN         string       `json:"urn"`
	Initial     string       `json:"initial"`
	States      []FSMState   `json:"states"`
	Transitions []Transition `json:"transitions"`
}

// DefaultFSM governs types that declare no lifecycle machine.
func DefaultFSM() FSM {
	return FSM{
		URN:     domain.DefaultFSMURN,
		Initial: domain.StateActive,
		States: []FSMState{
			{Code: domain.StateDraft},
			{Code: domain.StateActive},
			{Code: domain.StateArchived, Terminal: true},
		},
		Transitions: []Transition{
			{From: domain.StateDraft, To: domain.StateActive, Action: "activate"},
			{From: domain.StateActive, To: domain.StateArchived, Action: "archive"},
			{From: domain.StateArchived, To: domain.StateActive, Action: "activate"},
			{From: domain.StateDraft, To: domain.StateArchived, Action: "archive"},
		},
	}
}

// DefaultFSMDocument is the stored form of DefaultFSM.
func DefaultFSMDocument() map[string]any {
	f := DefaultFSM()
	states := make([]any, 0, len(f.States))
	for _, s := range f.States {
		states = append(states, map[string]any{"code": s.Code, "terminal": s.Terminal})
	}
	transitions := make([]any, 0, len(f.Transitions))
	for _, t := range f.Transitions {
		transitions = append(transitions, map[string]any{"from": t.From, "to": t.To, "action": t.Action})
	}
	return map[string]any{"name": "Default lifecycle", "initial": f.Initial, "states": states, "transitions": transitions}
}

func ProjectFSM(urn string, raw map[string]any) (FSM, error) {
	f := FSM{URN: urn, Initial: firstString(raw, "initial", "initial_state")}
	seen := map[string]struct{}{}
	for i, item := range listOf(raw["states"]) {
		var st FSMState
		switch v := item.(type) {
		case string:
			st = FSMState{Code: v}
		case map[string]any:
			st = FSMState{Code: firstString(v, "code", "name"), Terminal: firstBool(v, "terminal")}
			for _, r := range listOf(v["requires_relationships"]) {
				if s, ok := r.(string); ok && s != "" {
					st.RequiresRelationships = append(st.RequiresRelationships, s)
				}
			}
		default:
			return FSM{}, domain.Validationf("%s: states[%d]: %v", urn, i, errNotAMap)
		}
		if st.Code == "" {
			return FSM{}, domain.Validationf("%s: states[%d]: code is required", urn, i)
		}
		if _, dup := seen[st.Code]; dup {
			return FSM{}, domain.Validationf("%s: duplicate state %q", urn, st.Code)
		}
		seen[st.Code] = struct{}{}
		f.States = append(f.States, st)
	}
	if len(f.States) == 0 {
		return FSM{}, domain.Validationf("%s: at least one state is required", urn)
	}
	for i, item := range listOf(raw["transitions"]) {
		m, ok := item.(map[string]any)
		if !ok {
			return FSM{}, domain.Validationf("%s: transitions[%d]: %v", urn, i, errNotAMap)
		}
		t := Transition{From: firstString(m, "from"), To: firstString(m, "to"), Action: firstString(m, "action")}
		if _, ok := seen[t.From]; !ok {
			return FSM{}, domain.Validationf("%s: transitions[%d]: unknown state %q", urn, i, t.From)
		}
		if _, ok := seen[t.To]; !ok {
			return FSM{}, domain.Validationf("%s: transitions[%d]: unknown state %q", urn, i, t.To)
		}
		f.Transitions = append(f.Transitions, t)
	}
	if f.Initial == "" {
		f.Initial = f.States[0].Code
	}
	if _, ok := seen[f.Initial]; !ok {
		return FSM{}, domain.Validationf("%s: initial state %q is not declared", urn, f.Initial)
	}
	return f, nil
}

func (f FSM) State(code string) (FSMState, bool) {
	for _, s := range f.States {
		if s.Code == code {
			return s, true
		}
	}
	return FSMState{}, false
}

func (f FSM) HasState(code string) bool {
	_, ok := f.State(code)
	return ok
}

func (f FSM) CanTransition(from, to string) bool {
	for _, t := range f.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Target resolves a requested transition given either an explicit state or an
// action name.
func (f FSM) Target(current, state, action string) (string, error) {
	if state != "" {
		return state, nil
	}
	if action == "" {
		return "", fmt.Errorf("state or action is required")
	}
	for _, t := range f.Transitions {
		if t.From == current && t.Action == action {
			return t.To, nil
		}
	}
	for _, t := range f.Transitions {
		if t.Action == action {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("action %q is not defined by %s", action, f.URN)
}

// StateCodes returns the declared states in sorted order.
func (f FSM) StateCodes() []string {
	out := make([]string, 0, len(f.States))
	for _, s := range f.States {
		out = append(out, s.Code)
	}
	sort.Strings(out)
	return out
}
