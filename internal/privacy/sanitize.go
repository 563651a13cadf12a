package privacy

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

var errEmptyHost = errors.New("missing host")

const maxErrorMessageLen = 512

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?|wss?|ftp)://[^\s"'<>]+`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	pathPattern  = regexp.MustCompile(`(?:[A-Za-z]:\\[^\s"']+|~?(?:/[\w.\-]+){2,}/?)`)
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// URLs go first since they embed hosts, IPs and paths.
var rules = []rule{
	{urlPattern, "[URL]"},
	{emailPattern, "[EMAIL]"},
	{ssnPattern, "[SSN]"},
	{cardPattern, "[CARD]"},
	{ipv4Pattern, "[IP]"},
	{pathPattern, "[PATH]"},
}

func scrub(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// SanitizeLogMessage scrubs msg when log anonymization is on.
func (e *Enforcer) SanitizeLogMessage(msg string) string {
	if !e.cfg.AnonymizeLogs {
		return msg
	}
	return scrub(msg)
}

// SanitizeErrorMessage scrubs and truncates msg when anonymization is on.
func (e *Enforcer) SanitizeErrorMessage(msg string) string {
	if !e.cfg.AnonymizeLogs {
		return msg
	}
	msg = scrub(msg)
	if len(msg) > maxErrorMessageLen {
		cut := maxErrorMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
