package ffmpeg

import "strings"

// ParseLogLevel splits a line printed with -loglevel level+<n> into its
// level and message. Lines look like "[error] msg" or, for component
// output, "[h264 @ 0x55d] [warning] msg"; the component prefix is kept in
// the message. Lines without a level are info.
func ParseLogLevel(line string) (level, msg string) {
	head, rest, ok := bracketed(line)
	if !ok {
		return "info", line
	}
	if isLogLevel(head) {
		return head, rest
	}
	if next, tail, ok := bracketed(rest); ok && isLogLevel(next) {
		return next, line[:len(line)-len(rest)] + tail
	}
	return "info", line
}

// bracketed cuts a leading "[x] " from s.
func bracketed(s string) (inner, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	inner, rest, ok = strings.Cut(s[1:], "] ")
	if !ok || inner == "" {
		return "", s, false
	}
	return inner, rest, true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
