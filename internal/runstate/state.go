// Package runstate holds the mutable shared context threaded through one
// agent run: a key-value data map plus an append-only message transcript.
//
// A State is owned by exactly one run. Execution within a run is strictly
// sequential, so the accessors do no locking; states are never shared
// across runs.
package runstate

// Well-known data keys.
const (
	KeySummary             = "summary"
	KeyFiles               = "files"
	KeyContainerPreviewURL = "containerPreviewURL"
	KeyContainerName       = "containerName"
	KeyConversationType    = "conversationType"
	KeyRoutingReason       = "routingReason"
	KeyRoutingMessage      = "routingMessage"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the run transcript. Transcript order is the
// append order; messages are never removed or edited.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the shared run context.
type State struct {
	Data     map[string]any
	Messages []Message
}

// New returns an empty run state.
func New() *State {
	return &State{Data: make(map[string]any)}
}

// Append adds a message to the transcript.
func (s *State) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// AppendAll seeds the transcript with a prior conversation, preserving order.
func (s *State) AppendAll(msgs []Message) {
	s.Messages = append(s.Messages, msgs...)
}

func (s *State) getString(key string) string {
	v, _ := s.Data[key].(string)
	return v
}

// Summary returns the completion summary, or "" while the run is in progress.
func (s *State) Summary() string { return s.getString(KeySummary) }

// SetSummary records the completion summary. The summary is the run's
// termination signal: once set it is never overwritten, so a second write
// is ignored.
func (s *State) SetSummary(summary string) {
	if summary == "" || s.Summary() != "" {
		return
	}
	s.Data[KeySummary] = summary
}

// Files returns the accumulated path→content map, creating it on first use.
func (s *State) Files() map[string]string {
	if f, ok := s.Data[KeyFiles].(map[string]string); ok {
		return f
	}
	f := make(map[string]string)
	s.Data[KeyFiles] = f
	return f
}

// MergeFiles folds written files into the accumulated map. Later writes win
// per path; paths absent from this batch are left untouched.
func (s *State) MergeFiles(files map[string]string) {
	dst := s.Files()
	for path, content := range files {
		dst[path] = content
	}
}

// ContainerPreviewURL returns the cached preview URL, or "".
func (s *State) ContainerPreviewURL() string { return s.getString(KeyContainerPreviewURL) }

// SetContainerPreviewURL caches the preview URL for the run's container.
func (s *State) SetContainerPreviewURL(url string) {
	if url == "" {
		return
	}
	s.Data[KeyContainerPreviewURL] = url
}

// ContainerName returns the container addressed by this run, or "".
func (s *State) ContainerName() string { return s.getString(KeyContainerName) }

// SetContainerName records which container the run targets. Name uniqueness
// across concurrent runs is the caller's responsibility.
func (s *State) SetContainerName(name string) { s.Data[KeyContainerName] = name }

// SetRouting records a routing decision made by the classification agent.
func (s *State) SetRouting(d RoutingDecision) {
	s.Data[KeyConversationType] = string(d.Type)
	s.Data[KeyRoutingReason] = d.Reason
	s.Data[KeyRoutingMessage] = d.Message
}

// Routing returns the recorded routing decision and whether one exists.
func (s *State) Routing() (RoutingDecision, bool) {
	t := s.getString(KeyConversationType)
	if t == "" {
		return RoutingDecision{}, false
	}
	return RoutingDecision{
		Type:    ConversationType(t),
		Reason:  s.getString(KeyRoutingReason),
		Message: s.getString(KeyRoutingMessage),
	}, true
}
