package fleet

import (
	"fmt"
	"strings"
)

// Command is a device switching command.
type Command string

const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// ParseCommand accepts any casing of ON or OFF.
func ParseCommand(s string) (Command, error) {
	switch Command(strings.ToUpper(strings.TrimSpace(s))) {
	case CommandOn:
		return CommandOn, nil
	case CommandOff:
		return CommandOff, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

func (c Command) String() string { return string(c) }
