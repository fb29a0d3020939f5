package task

import "time"

// State is the lifecycle position of a task. It is fully determined by the
// vault folder that currently holds the task document.
type State string

const (
	StateNeedsAction     State = "needs_action"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateDone            State = "done"
	StateRejected        State = "rejected"
)

// States lists every state in lifecycle order.
var States = []State{StateNeedsAction, StatePendingApproval, StateApproved, StateDone, StateRejected}

var stateFolders = map[State]string{
	StateNeedsAction:     "Needs_Action",
	StatePendingApproval: "Pending_Approval",
	StateApproved:        "Approved",
	StateDone:            "Done",
	StateRejected:        "Rejected",
}

// Folder returns the vault folder backing the state.
func (s State) Folder() string { return stateFolders[s] }

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateFolders[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDone || s == StateRejected }

// ParseState accepts a state name ("approved") or its folder ("Approved").
func ParseState(raw string) (State, error) {
	for _, s := range States {
		if raw == string(s) || raw == s.Folder() {
			return s, nil
		}
	}
	return "", NewErrUnknownState(raw)
}

// Origin identifies which watcher produced a task.
type Origin string

const (
	OriginFileDrop Origin = "file_drop"
	OriginTest     Origin = "test"
)

// Ref points at a task document inside the vault.
type Ref struct {
	Name    string    `json:"name"`
	State   State     `json:"state"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// Metadata is the YAML block at the top of a task document. Keys the engine
// does not know about are preserved in Fields.
type Metadata struct {
	Type     string         `yaml:"type,omitempty" json:"type,omitempty"`
	Priority string         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Status   string         `yaml:"status,omitempty" json:"status,omitempty"`
	Created  string         `yaml:"created,omitempty" json:"created,omitempty"`
	Received string         `yaml:"received,omitempty" json:"received,omitempty"`
	Fields   map[string]any `yaml:",inline" json:"fields,omitempty"`
}

// Document is a parsed task document. HasFrontMatter is false for
// hand-written documents without a metadata block.
type Document struct {
	Meta           Metadata `json:"meta"`
	Body           string   `json:"body"`
	HasFrontMatter bool     `json:"-"`
}

// Task couples a Ref with its parsed content.
type Task struct {
	Ref
	Document
	Raw []byte `json:"-"`
}

const (
	documentExt     = ".md"
	defaultPriority = "normal"
	defaultStatus   = "pending"
)
