package realtime

import (
	"encoding/json"
	"fmt"
)

// CommandName is the closed set of remote commands the server can issue.
// Anything else decodes to CmdUnknown and is logged and ignored.
type CommandName int

const (
	CmdUnknown CommandName = iota
	CmdSendLogs
	CmdGetParameters
	CmdReboot
	CmdSendMsgLog
	CmdChangedParameters
	CmdPing
	CmdRefresh
)

func (n CommandName) String() string {
	switch n {
	case CmdSendLogs:
		return "send_logs"
	case CmdGetParameters:
		return "get_d_parameters"
	case CmdReboot:
		return "reboot"
	case CmdSendMsgLog:
		return "send_msg_log"
	case CmdChangedParameters:
		return "changed_parameters"
	case CmdPing:
		return "ping"
	case CmdRefresh:
		return "refresh"
	}
	return "unknown"
}

var commandNames = map[string]CommandName{
	"send_logs":          CmdSendLogs,
	"get_d_parameters":   CmdGetParameters,
	"reboot":             CmdReboot,
	"send_msg_log":       CmdSendMsgLog,
	"changed_parameters": CmdChangedParameters,
	"ping":               CmdPing,
	"refresh":            CmdRefresh,
}

// Command is one decoded remote command.
type Command struct {
	Name CommandName
	// Raw is the command tag as sent, kept for logging unknowns.
	Raw string
	// Message carries the text payload of send_msg_log.
	Message string
}

// decodeCommand decodes the payload of an "m" event. The payload object
// carries a field "t" holding a separately JSON-encoded command object whose
// "f" field names the command. Decoding happens once, here, at the protocol
// boundary.
func decodeCommand(payload json.RawMessage) (Command, error) {
	var envelope struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Command{}, fmt.Errorf("malformed command envelope: %w", err)
	}

	var inner struct {
		F   string `json:"f"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(envelope.T), &inner); err != nil {
		return Command{}, fmt.Errorf("malformed command object: %w", err)
	}

	name, ok := commandNames[inner.F]
	if !ok {
		name = CmdUnknown
	}
	return Command{Name: name, Raw: inner.F, Message: inner.Msg}, nil
}
