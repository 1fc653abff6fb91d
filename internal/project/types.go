package project

// State is a project lifecycle state.
type State string

// Canonical forward order. Movement is not restricted to this order — the
// dashboard allows manual correction to any state — but transitions landing
// on Review or Rex raise the ceremony side effect.
const (
	StateBacklog  State = "backlog"
	StatePlanning State = "planning"
	StateBuild    State = "build"
	StateReview   State = "review"
	StateDelivery State = "delivery"
	StateRex      State = "rex"
	StateDone     State = "done"
)

// States lists all states in canonical forward order.
var States = []State{
	StateBacklog, StatePlanning, StateBuild, StateReview,
	StateDelivery, StateRex, StateDone,
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// CeremonyKind reports whether entering s triggers a ceremony, and which.
func (s State) CeremonyKind() (string, bool) {
	switch s {
	case StateReview:
		return "review", true
	case StateRex:
		return "rex", true
	}
	return "", false
}

// Project is the central dashboard entity.
type Project struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Type         string   `json:"type,omitempty"`
	State        State    `json:"state"`
	Progress     int      `json:"progress"`
	Lead         string   `json:"lead,omitempty"`
	Channel      string   `json:"channel,omitempty"`
	ChannelID    string   `json:"channelId,omitempty"`
	Workspace    string   `json:"workspace,omitempty"`
	Repo         string   `json:"repo,omitempty"`
	CurrentPhase string   `json:"currentPhase,omitempty"`
	LastNudgeAt  *string  `json:"lastNudgeAt"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
	Team         []Member `json:"team"`
	Phases       []Phase  `json:"phases"`
	Updates      []Update `json:"updates,omitempty"`
}

// Member links an agent to a project with an optional role label.
type Member struct {
	Agent string `json:"agent"`
	Role  string `json:"role,omitempty"`
}

// Phase is an ordered sub-step of a project. Phases are replaced wholesale
// on update; there is no partial phase mutation.
type Phase struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	StartedAt   *string `json:"startedAt"`
	CompletedAt *string `json:"completedAt"`
	SortOrder   int     `json:"-"`
}

// Update is an immutable append-only log entry for a project.
type Update struct {
	Timestamp string `json:"timestamp"`
	AgentID   string `json:"agentId,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

// CreateInput holds the parameters for creating a project.
type CreateInput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	State       State    `json:"state"`
	Lead        string   `json:"lead"`
	Workspace   string   `json:"workspace"`
	Repo        string   `json:"repo"`
	Team        []Member `json:"team"`
	Phases      []Phase  `json:"phases"`
}

// Patch is a sparse update. Nil fields are untouched. Field names outside
// this set are silently ignored by decoding, which keeps old callers with
// newer payloads working.
type Patch struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Type         *string `json:"type"`
	State        *State  `json:"state"`
	Progress     *int    `json:"progress"`
	Lead         *string `json:"lead"`
	Workspace    *string `json:"workspace"`
	Repo         *string `json:"repo"`
	CurrentPhase *string `json:"currentPhase"`

	// Relation replacement. A non-nil slice replaces the full set.
	Team   []Member `json:"team"`
	Phases []Phase  `json:"phases"`

	// Log append. Message writes a single note attributed to the
	// dashboard; Updates imports a batch with per-entry attribution.
	Message *string       `json:"message"`
	Updates []UpdateInput `json:"updates"`
}

// UpdateInput is one imported log entry.
type UpdateInput struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NudgeResult is returned by a successful nudge.
type NudgeResult struct {
	ProjectID      string   `json:"projectId"`
	NudgedAgents   []string `json:"nudgedAgents"`
	Delivered      bool     `json:"delivered"`
	NextNudgeAfter string   `json:"nextNudgeAvailableAt"`
}
