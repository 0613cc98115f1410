// Package agent holds the operator-facing collaborators around the detection
// core: the voice command parser, the privacy-preserving query aggregator and
// the external language-model client.
package agent

import (
	"regexp"
	"strings"
)

// Command actions recognized by the voice parser.
const (
	ActionScan = "scan"
	ActionLock = "lock"
)

// Command is the structured form of a free-form operator transcript.
type Command struct {
	Action   string `json:"action"`
	Ward     string `json:"ward,omitempty"`
	UserName string `json:"user_name,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

var (
	lockIDRe   = regexp.MustCompile(`lock\s+(?:user\s+)?([0-9a-f][0-9a-f-]{7,})`)
	lockNameRe = regexp.MustCompile(`lock\s+(?:dr\.?\s*|doctor\s+)?([a-z]+)`)
	wardRe     = regexp.MustCompile(`ward\s+([a-z0-9]+)`)
	doctorRe   = regexp.MustCompile(`(?:dr\.?\s*|doctor\s+)([a-z]+)`)
)

// ParseVoiceCommand maps a transcript to a structured scan or lock command.
// Pure pattern matching; unknown phrasing degrades to an unfiltered scan.
func ParseVoiceCommand(transcript string) Command {
	txt := strings.ToLower(strings.TrimSpace(transcript))
	cmd := Command{Action: ActionScan}

	if m := lockIDRe.FindStringSubmatch(txt); m != nil {
		cmd.Action = ActionLock
		cmd.UserID = m[1]
		return cmd
	}

	if strings.Contains(txt, "lock") {
		cmd.Action = ActionLock
		if m := lockNameRe.FindStringSubmatch(txt); m != nil && m[1] != "user" {
			cmd.UserName = m[1]
		}
		return cmd
	}

	if m := wardRe.FindStringSubmatch(txt); m != nil {
		cmd.Ward = m[1]
	}
	if m := doctorRe.FindStringSubmatch(txt); m != nil {
		cmd.UserName = m[1]
	}

	return cmd
}
