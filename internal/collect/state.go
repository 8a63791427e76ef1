package collect

import "time"

// State is a node of the session state machine
type State int

const (
	LoggedOut State = iota
	AwaitingEmailStep
	AwaitingUsernameStep
	AwaitingPasswordStep
	Authenticated
	Collecting
	RateLimited
	Terminated
)

var stateNames = [...]string{
	LoggedOut:            "logged_out",
	AwaitingEmailStep:    "awaiting_email",
	AwaitingUsernameStep: "awaiting_username",
	AwaitingPasswordStep: "awaiting_password",
	Authenticated:        "authenticated",
	Collecting:           "collecting",
	RateLimited:          "rate_limited",
	Terminated:           "terminated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Outcome is how a terminated session ended
type Outcome string

const (
	Success   Outcome = "success"
	Exhausted Outcome = "exhausted"
	Failed    Outcome = "failed"
)

// SessionState is owned by exactly one session and discarded when it ends
type SessionState struct {
	Current State
	Resume  State // state to return to after a cooldown

	StepRetries     map[State]int // unexpected observations per login state
	NetworkRetries  int           // attempts of the step being retried
	RateLimitHits   int           // consecutive anti-bot signals
	TotalRateLimits int
	Cooldown        time.Duration // last cooldown applied
	EmptyScrolls    int
	Scrolls         int

	Outcome Outcome
	Reason  string
}

func newSessionState() *SessionState {
	return &SessionState{Current: LoggedOut, StepRetries: make(map[State]int)}
}
