package runstate

import (
	"fmt"
	"regexp"
	"strings"
)

// The marker protocol is the only place where agent coordination rides on
// literal text: the code agent signals completion with a <task_summary>
// block, and the routing agent emits three tagged fields. Both are parsed
// here, once, at the model boundary; everything downstream works with
// structured values.

// ConversationType classifies the user's intent.
type ConversationType string

const (
	TypeBuildFragment  ConversationType = "BUILD_FRAGMENT"
	TypeUpdateFragment ConversationType = "UPDATE_FRAGMENT"
	TypeFixErrors      ConversationType = "FIX_ERRORS"
	TypeGeneralChat    ConversationType = "GENERAL_CHAT"
)

// RoutingDecision is the structured form of the routing agent's output.
type RoutingDecision struct {
	Type    ConversationType
	Reason  string
	Message string
}

var (
	taskSummaryRe      = regexp.MustCompile(`(?s)<task_summary>.*?</task_summary>`)
	conversationTypeRe = regexp.MustCompile(`(?s)<conversation_type>(.*?)</conversation_type>`)
	routingReasonRe    = regexp.MustCompile(`(?s)<routing_reason>(.*?)</routing_reason>`)
	routingMessageRe   = regexp.MustCompile(`(?s)<message>(.*?)</message>`)
)

// ExtractTaskSummary returns the completion marker block embedded anywhere
// in assistant text, tags included, or "" if the run is still in progress.
func ExtractTaskSummary(text string) string {
	return taskSummaryRe.FindString(text)
}

// RoutingParseError reports which routing marker fields were absent.
type RoutingParseError struct {
	MissingFields []string
}

func (e *RoutingParseError) Error() string {
	return fmt.Sprintf("routing markers incomplete: missing %s", strings.Join(e.MissingFields, ", "))
}

// ParseRoutingDecision extracts the three routing marker fields from
// assistant text. All three must be present and the conversation type must
// be one of the four known values; otherwise a *RoutingParseError is
// returned and no decision is produced.
func ParseRoutingDecision(text string) (RoutingDecision, error) {
	perr := &RoutingParseError{}

	typ := firstGroup(conversationTypeRe, text)
	if typ == "" {
		perr.MissingFields = append(perr.MissingFields, "conversation_type")
	}
	reason := firstGroup(routingReasonRe, text)
	if reason == "" {
		perr.MissingFields = append(perr.MissingFields, "routing_reason")
	}
	message := firstGroup(routingMessageRe, text)
	if message == "" {
		perr.MissingFields = append(perr.MissingFields, "message")
	}
	if len(perr.MissingFields) > 0 {
		return RoutingDecision{}, perr
	}

	ct := ConversationType(typ)
	switch ct {
	case TypeBuildFragment, TypeUpdateFragment, TypeFixErrors, TypeGeneralChat:
	default:
		return RoutingDecision{}, fmt.Errorf("unknown conversation type %q", typ)
	}

	return RoutingDecision{Type: ct, Reason: reason, Message: message}, nil
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
