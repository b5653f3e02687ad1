package messaging

import (
	"strings"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// Reply actions understood over SMS.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// Command is a parsed therapist reply such as "ACCEPT RMM241089ab".
type Command struct {
	Action string
	Code   string
}

// ParseCommand reads "<ACCEPT|DECLINE> <code>". Case and surrounding
// whitespace are ignored; anything else returns ok=false.
func ParseCommand(body string) (Command, bool) {
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return Command{}, false
	}
	var action string
	switch strings.ToUpper(fields[0]) {
	case "ACCEPT", "YES", "Y":
		action = ActionAccept
	case "DECLINE", "NO", "N":
		action = ActionDecline
	default:
		return Command{}, false
	}
	code := strings.Trim(fields[1], ".,!#")
	if code == "" {
		return Command{}, false
	}
	return Command{Action: action, Code: booking.NormalizeCode(code)}, true
}

// HelpText is the reply for anything that is not a command.
func HelpText(brand string) string {
	return brand + ": reply ACCEPT <booking code> or DECLINE <booking code>, e.g. ACCEPT RMM241089ab."
}
