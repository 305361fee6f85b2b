// Package domain holds the entities of §3 of the specification: the shapes
// shared by persistence, the engines, and the observability bus. Keeping
// them in one leaf package avoids import cycles between engines that all
// need to refer to, e.g., an ExecutionStep.
package domain

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionTimeout   SessionStatus = "timeout"
)

// Session is the unit of user interaction (§3 "Session").
type Session struct {
	ID            string
	UserID        string
	CreatedAt     time.Time
	AgentConfig   AgentConfig
	ToolCalls     int
	TokensUsed    int
	Status        SessionStatus
}

// AgentConfig is the §3 "Agent configuration" entity.
type AgentConfig struct {
	Name          string
	SystemPrompt  string
	Tools         []string
	SubAgents     []string
	Provider      string
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	MemoryLimit   int
	Capabilities  []string
	MemoryEnabled bool
	AgentType     string
	ReflectionOn  bool
}

// HasCapability reports whether the agent config declares cap.
func (a AgentConfig) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasTool reports whether name is in the agent's permitted tool list.
func (a AgentConfig) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// StepType enumerates the kinds of planned step (§3 "Planned step").
type StepType string

const (
	StepToolCall         StepType = "tool_call"
	StepAgentInvocation  StepType = "agent_invocation"
	StepContainerWorkload StepType = "container_workload"
	StepReasoning        StepType = "reasoning"
	StepPipeline         StepType = "pipeline"
)

// ContainerSpec is the minimal description needed to run a container step.
type ContainerSpec struct {
	Image      string
	Command    []string
	Env        map[string]string
	WorkingDir string
	Limits     ResourceLimits
	Networked  bool
}

// ResourceLimits bounds a container's CPU/memory footprint.
type ResourceLimits struct {
	MemoryMB   int
	CPUCores   float64
	TimeoutSec int
}

// PlannedStep is one step of a Plan (§3 "Planned step").
type PlannedStep struct {
	ID          string
	Description string
	Type        StepType
	ToolName    string
	AgentName   string
	Container   *ContainerSpec
	// Params may contain literal placeholders "${step_N.field}".
	Params          map[string]any
	SuccessCriteria string
	Timeout         time.Duration
	RetryCount      int
}

// Validate enforces the §3 invariant: a step's type-specific field must be
// populated.
func (s PlannedStep) Validate() error {
	switch s.Type {
	case StepToolCall:
		if s.ToolName == "" {
			return errMissingField("tool_call", "tool_name")
		}
	case StepAgentInvocation:
		if s.AgentName == "" {
			return errMissingField("agent_invocation", "agent_name")
		}
	case StepContainerWorkload:
		if s.Container == nil {
			return errMissingField("container_workload", "container_spec")
		}
	}
	return nil
}

type validationError struct {
	stepType, field string
}

func (e *validationError) Error() string {
	return "planned step of type " + e.stepType + " missing required field " + e.field
}

func errMissingField(stepType, field string) error {
	return &validationError{stepType: stepType, field: field}
}

// Plan is an ordered sequence of planned steps (§3 "Plan").
type Plan struct {
	ID                string
	Task              string
	Steps             []PlannedStep
	Confidence        float64
	EstimatedDuration time.Duration
	ResourceEstimate  ResourceLimits
	CreatedAt         time.Time
}

// ResourceUsage is a point-in-time snapshot attached to an ExecutionStep.
type ResourceUsage struct {
	CPUMillis    int64
	MemoryPeakKB int64
}

// ExecutionStep records one executed planned step (§3 "Execution step").
type ExecutionStep struct {
	ID             string
	PlannedStepID  string
	StartedAt      time.Time
	EndedAt        time.Time
	Success        bool
	ToolUsed       string
	AgentUsed      string
	ContainerUsed  string
	ResolvedParams map[string]any
	Result         any
	Error          string
	Reflection     *Reflection
	Summary        string
	Resources      ResourceUsage
}

// Duration returns the wall-clock time the step took.
func (e ExecutionStep) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// TurnRole identifies who authored a conversation Turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
	RoleTool      TurnRole = "tool"
	RoleAgent     TurnRole = "agent"
	RoleContainer TurnRole = "container"
)

// TurnMetadata links a Turn back to the step/tool/agent that produced it.
type TurnMetadata struct {
	StepID     string
	ToolOrAgent string
	Category   string
	Confidence float64
}

// Turn is one message in a Conversation (§3 "Conversation").
type Turn struct {
	Role      TurnRole
	Content   string
	Timestamp time.Time
	Metadata  TurnMetadata
}

// ConversationState tracks a Conversation's lifecycle.
type ConversationState string

const (
	ConvWorking     ConversationState = "working"
	ConvConcluding  ConversationState = "concluding"
	ConvCompleted   ConversationState = "completed"
	ConvError       ConversationState = "error"
)

// Conversation is the session-level transcript (§3 "Conversation").
type Conversation struct {
	SessionID     string
	Turns         []Turn
	State         ConversationState
	FinalResponse string
}

// AssessmentDimension is one axis of a Reflection's assessment.
type AssessmentDimension string

const (
	AssessPerformance AssessmentDimension = "performance"
	AssessQuality     AssessmentDimension = "quality"
	AssessEfficiency  AssessmentDimension = "efficiency"
)

// SuggestedAction is the reflection engine's recommendation (§3, §4.8).
type SuggestedAction string

const (
	ActionContinue        SuggestedAction = "continue"
	ActionRetry           SuggestedAction = "retry"
	ActionModifyPlan      SuggestedAction = "modify_plan"
	ActionUseDifferentTool SuggestedAction = "use_different_tool"
	ActionAbort           SuggestedAction = "abort"
)

// Reflection is a structured self-assessment attached to an ExecutionStep.
type Reflection struct {
	StepID          string
	Assessment      map[AssessmentDimension]float64
	SuggestedAction SuggestedAction
	Rationale       string
	Confidence      float64
}

// RuntimeContext is the composite per-session state threaded through the
// engines during a turn (§3 "Runtime context").
type RuntimeContext struct {
	SessionID      string
	AgentConfig    AgentConfig
	Conversation   *Conversation
	CurrentPlan    *Plan
	History        []ExecutionStep
	CurrentStep    int
	TotalSteps     int
	MemoryUsed     int
	WorkingMemory  map[string]any
	Depth          int // sub-agent recursion depth
}

// ToolType is the tagged variant of a registry entry (§3, §9).
type ToolType string

const (
	ToolBuiltin   ToolType = "builtin"
	ToolBundle    ToolType = "bundle"
	ToolContainer ToolType = "container"
	ToolLLM       ToolType = "llm"
)

// ToolScope distinguishes concretely-executable entries from ones that
// require resolver auto-registration before they can run.
type ToolScope string

const (
	ScopeConcrete ToolScope = "concrete"
	ScopeAbstract ToolScope = "abstract"
)

// SecurityLevel gates tool execution against agent capabilities (§4.4).
type SecurityLevel string

const (
	SecuritySafe     SecurityLevel = "safe"
	SecurityLimited  SecurityLevel = "limited"
	SecurityElevated SecurityLevel = "elevated"
	SecurityDangerous SecurityLevel = "dangerous"
)

// ToolRegistryEntry describes one resolvable tool (§3 "Tool registry entry").
type ToolRegistryEntry struct {
	Name         string
	Description  string
	ParamSchema  map[string]any
	Type         ToolType
	Scope        ToolScope
	BundleID     string
	EntryPoint   string
	ContainerImage string
	ContainerCmd []string
	LLMProvider  string
	LLMModel     string
	Version      string
	Capabilities []string
	Resources    ResourceLimits
	Security     SecurityLevel
}

// ContainerState is a container's lifecycle state (§3, §4.5.1).
type ContainerState string

const (
	ContainerCreated  ContainerState = "created"
	ContainerStarting ContainerState = "starting"
	ContainerRunning  ContainerState = "running"
	ContainerStopped  ContainerState = "stopped"
	ContainerFailed   ContainerState = "failed"
	ContainerError    ContainerState = "error"
)

// ContainerRecord is the persisted state of one container (§3).
type ContainerRecord struct {
	ID          string
	UserID      string
	SessionID   string // may be empty for persistent containers
	Image       string
	Command     []string
	Env         map[string]string
	WorkingDir  string
	Limits      ResourceLimits
	Networked   bool
	State       ContainerState
	PID         int
	ExitCode    int
	CreatedAt   time.Time
	StartedAt   time.Time
	StoppedAt   time.Time
	IPAddress   string
	AutoRemove  bool
	Persistent  bool
}

// AllocationStatus is a NetworkAllocation's lifecycle state.
type AllocationStatus string

const (
	AllocAllocated     AllocationStatus = "allocated"
	AllocActive        AllocationStatus = "active"
	AllocCleanupPending AllocationStatus = "cleanup_pending"
	AllocCleaned       AllocationStatus = "cleaned"
)

// NetworkAllocation is the §3 "Network allocation" entity.
type NetworkAllocation struct {
	ContainerID   string
	IPAddress     string
	Bridge        string
	HostVeth      string
	ContainerVeth string
	AllocatedAt   time.Time
	SetupComplete bool
	Status        AllocationStatus
}

// MonitorStatus is a ProcessMonitor's lifecycle state.
type MonitorStatus string

const (
	MonitorRunning   MonitorStatus = "monitoring"
	MonitorCompleted MonitorStatus = "completed"
	MonitorFailed    MonitorStatus = "failed"
	MonitorAborted   MonitorStatus = "aborted"
)

// ProcessMonitor is the §3 "Process monitor" entity.
type ProcessMonitor struct {
	ContainerID    string
	PID            int
	MonitorStarted time.Time
	LastCheck      time.Time
	Status         MonitorStatus
}

// PatternUsageStats tracks a ContainerPattern's track record.
type PatternUsageStats struct {
	SuccessCount    int
	FailureCount    int
	Total           int
	AvgExecutionMS  float64
	LastUsed        time.Time
}

// ContainerPattern is a learned trigger→configuration mapping (§4.11).
type ContainerPattern struct {
	ID           string
	Trigger      string
	Template     ContainerSpec
	Confidence   float64
	Usage        PatternUsageStats
	Variables    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContextNodeType enumerates context-tree node kinds (§4.11).
type ContextNodeType string

const (
	NodeSession     ContextNodeType = "session"
	NodeWorkflow    ContextNodeType = "workflow"
	NodeContainer   ContextNodeType = "container"
	NodeTool        ContextNodeType = "tool"
	NodeAgent       ContextNodeType = "agent"
	NodeEnvironment ContextNodeType = "environment"
)

// ContextNodeMetadata is the rolling execution statistic attached to a node.
type ContextNodeMetadata struct {
	ExecutionCount int
	SuccessRate    float64
	AvgDurationMS  float64
	LastExecution  time.Time
	RecentErrors   []string
}

// ExecutionContextNode is one node of the per-session context forest
// (§3 "Execution context node").
type ExecutionContextNode struct {
	ID        string
	SessionID string
	Type      ContextNodeType
	ParentID  string
	Payload   map[string]any
	Priority  int
	Metadata  ContextNodeMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}
