package device

// Command is a dialect-independent host command.
type Command uint8

const (
	CommandReset Command = iota + 1
	CommandPoll
	CommandEnable
	CommandDisable
	CommandStack
	CommandReturn
	CommandAckValid
	CommandGetDenominations
	CommandDispense
)

var commandNames = map[Command]string{
	CommandReset:            "reset",
	CommandPoll:             "poll",
	CommandEnable:           "enable",
	CommandDisable:          "disable",
	CommandStack:            "stack",
	CommandReturn:           "return",
	CommandAckValid:         "ack-valid",
	CommandGetDenominations: "get-denominations",
	CommandDispense:         "dispense",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return "unknown"
}

// Command returns the command that carries out a follow-up action.
func (a Action) Command() Command {
	switch a {
	case ActionReject:
		return CommandReturn
	case ActionAckValid:
		return CommandAckValid
	case ActionDisable:
		return CommandDisable
	default:
		return 0
	}
}
