// Package compliance holds the messaging rules every tenant gets regardless of
// configuration: opt-out keywords take effect immediately, and card numbers are
// never stored.
package compliance

import (
	"regexp"
	"strings"
)

// Detector identifies STOP, START and HELP keywords in inbound messages.
type Detector struct {
	stopRegex  *regexp.Regexp
	startRegex *regexp.Regexp
	helpRegex  *regexp.Regexp
}

// NewDetector returns a keyword detector covering English and Swahili.
func NewDetector() *Detector {
	return &Detector{
		stopRegex:  regexp.MustCompile(`(?i)^(?:please\s+)?(stop|stopall|unsubscribe|end|quit|sitisha|sitaki (?:ujumbe|matangazo))\b`),
		startRegex: regexp.MustCompile(`(?i)^(?:please\s+)?(start|subscribe|unstop|anza|jiunge)\b`),
		helpRegex:  regexp.MustCompile(`(?i)^(?:please\s+)?(help|info|msaada)\b`),
	}
}

// IsStop returns true when body opens with a STOP keyword.
func (d *Detector) IsStop(body string) bool {
	if d == nil || d.stopRegex == nil {
		return false
	}
	return d.stopRegex.MatchString(strings.TrimSpace(body))
}

// IsStart returns true when body opens with an opt-in keyword.
func (d *Detector) IsStart(body string) bool {
	if d == nil || d.startRegex == nil {
		return false
	}
	return d.startRegex.MatchString(strings.TrimSpace(body))
}

// IsHelp returns true when body opens with a HELP keyword.
func (d *Detector) IsHelp(body string) bool {
	if d == nil || d.helpRegex == nil {
		return false
	}
	return d.helpRegex.MatchString(strings.TrimSpace(body))
}
