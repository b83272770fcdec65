package commandbot

import (
	"fmt"
	"strconv"
	"strings"
)

// verb identifies one recognized command.
type verb int

const (
	verbUnknown verb = iota
	verbHelp
	verbAbout
	verbStatsLastMessage
	verbStatsLastN
	verbStatsToday
	verbStatsTodayDetailed
	verbStatsStatus
	verbSubscribe
	verbUnsubscribe
	verbMySubscriptions
)

// command is a parsed, ready-to-dispatch instruction.
type command struct {
	verb    verb
	n       int    // verbStatsLastN
	variant string // verbSubscribe
	raw     string
}

// parseCommand parses the text of a message already confirmed to start
// with "!". Verb parsing is case-insensitive and whitespace-tolerant.
func parseCommand(text string) command {
	raw := text
	body := strings.TrimSpace(strings.TrimPrefix(text, "!"))
	fields := strings.Fields(strings.ToLower(body))
	if len(fields) == 0 {
		return command{verb: verbUnknown, raw: raw}
	}

	switch fields[0] {
	case "help":
		return command{verb: verbHelp, raw: raw}
	case "about":
		return command{verb: verbAbout, raw: raw}
	case "subscribe":
		if len(fields) != 2 {
			return command{verb: verbUnknown, raw: raw}
		}
		return command{verb: verbSubscribe, variant: fields[1], raw: raw}
	case "unsubscribe":
		return command{verb: verbUnsubscribe, raw: raw}
	case "my_subscriptions":
		return command{verb: verbMySubscriptions, raw: raw}
	case "stats":
		return parseStats(fields[1:], raw)
	default:
		return command{verb: verbUnknown, raw: raw}
	}
}

func parseStats(rest []string, raw string) command {
	switch {
	case len(rest) == 2 && rest[0] == "last" && rest[1] == "message":
		return command{verb: verbStatsLastMessage, raw: raw}
	case len(rest) == 3 && rest[0] == "last" && rest[2] == "messages":
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 1 || n > 20 {
			return command{verb: verbUnknown, raw: raw}
		}
		return command{verb: verbStatsLastN, n: n, raw: raw}
	case len(rest) == 1 && rest[0] == "today":
		return command{verb: verbStatsToday, raw: raw}
	case len(rest) == 2 && rest[0] == "today" && rest[1] == "detailed":
		return command{verb: verbStatsTodayDetailed, raw: raw}
	case len(rest) == 1 && rest[0] == "status":
		return command{verb: verbStatsStatus, raw: raw}
	default:
		return command{verb: verbUnknown, raw: raw}
	}
}

const helpText = "Commands: help, about, stats last message, stats last N messages, " +
	"stats today[ detailed], stats status, subscribe {low|avg|high}, unsubscribe, my_subscriptions."

const unknownVerbHint = "Unrecognized command. Send !help for the list of commands."

func unknownVerbReply(c command) string {
	return fmt.Sprintf("%q: %s", c.raw, unknownVerbHint)
}
