package commandbot

import "testing"

func TestParseCommand_Help(t *testing.T) {
	c := parseCommand("!help")
	if c.verb != verbHelp {
		t.Errorf("verb = %v, want verbHelp", c.verb)
	}
}

func TestParseCommand_CaseAndWhitespaceInsensitive(t *testing.T) {
	c := parseCommand("!  HELP  ")
	if c.verb != verbHelp {
		t.Errorf("verb = %v, want verbHelp", c.verb)
	}
}

func TestParseCommand_StatsLastMessage(t *testing.T) {
	c := parseCommand("!stats last message")
	if c.verb != verbStatsLastMessage {
		t.Errorf("verb = %v, want verbStatsLastMessage", c.verb)
	}
}

func TestParseCommand_StatsLastN(t *testing.T) {
	c := parseCommand("!stats last 5 messages")
	if c.verb != verbStatsLastN || c.n != 5 {
		t.Errorf("got verb=%v n=%d", c.verb, c.n)
	}
}

func TestParseCommand_StatsLastN_OutOfRangeIsUnknown(t *testing.T) {
	c := parseCommand("!stats last 99 messages")
	if c.verb != verbUnknown {
		t.Errorf("verb = %v, want verbUnknown for n=99", c.verb)
	}
}

func TestParseCommand_StatsToday(t *testing.T) {
	c := parseCommand("!stats today")
	if c.verb != verbStatsToday {
		t.Errorf("verb = %v, want verbStatsToday", c.verb)
	}
}

func TestParseCommand_StatsTodayDetailed(t *testing.T) {
	c := parseCommand("!stats today detailed")
	if c.verb != verbStatsTodayDetailed {
		t.Errorf("verb = %v, want verbStatsTodayDetailed", c.verb)
	}
}

func TestParseCommand_StatsStatus(t *testing.T) {
	c := parseCommand("!stats status")
	if c.verb != verbStatsStatus {
		t.Errorf("verb = %v, want verbStatsStatus", c.verb)
	}
}

func TestParseCommand_Subscribe(t *testing.T) {
	c := parseCommand("!subscribe high")
	if c.verb != verbSubscribe || c.variant != "high" {
		t.Errorf("got verb=%v variant=%q", c.verb, c.variant)
	}
}

func TestParseCommand_SubscribeRequiresVariant(t *testing.T) {
	c := parseCommand("!subscribe")
	if c.verb != verbUnknown {
		t.Errorf("verb = %v, want verbUnknown without a variant", c.verb)
	}
}

func TestParseCommand_Unsubscribe(t *testing.T) {
	c := parseCommand("!unsubscribe")
	if c.verb != verbUnsubscribe {
		t.Errorf("verb = %v, want verbUnsubscribe", c.verb)
	}
}

func TestParseCommand_MySubscriptions(t *testing.T) {
	c := parseCommand("!my_subscriptions")
	if c.verb != verbMySubscriptions {
		t.Errorf("verb = %v, want verbMySubscriptions", c.verb)
	}
}

func TestParseCommand_Unknown(t *testing.T) {
	c := parseCommand("!frobnicate")
	if c.verb != verbUnknown {
		t.Errorf("verb = %v, want verbUnknown", c.verb)
	}
}

func TestParseCommand_EmptyBody(t *testing.T) {
	c := parseCommand("!")
	if c.verb != verbUnknown {
		t.Errorf("verb = %v, want verbUnknown", c.verb)
	}
}
