package app

import (
	"errors"
	"fmt"
	"strings"

	"cherry_chat/internal/model"
)

var errUsage = errors.New("usage")

type command struct {
	name string
	peer model.PublicKey
	args []string
	text string
}

// parseCommand splits an input line. Lines that do not start with '/' are messages for the open
// chat.
func parseCommand(line string) (*command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return &command{name: "send", text: line}, nil
	}

	fields := strings.Fields(line)
	cmd := &command{name: strings.TrimPrefix(fields[0], "/"), args: fields[1:]}

	switch cmd.name {
	case "register", "keys", "help":
		return cmd, nil
	case "invite":
		if len(cmd.args) < 2 {
			return nil, fmt.Errorf("%w: /invite <pubkey> <x25519 hex> [note]", errUsage)
		}
		cmd.text = strings.Join(cmd.args[2:], " ")
	case "accept", "reject", "open":
		if len(cmd.args) != 1 {
			return nil, fmt.Errorf("%w: /%s <pubkey>", errUsage, cmd.name)
		}
	default:
		return nil, fmt.Errorf("unknown command /%s", cmd.name)
	}

	peer, err := model.PublicKeyFromBase58(cmd.args[0])
	if err != nil {
		return nil, fmt.Errorf("bad pubkey %q: %w", cmd.args[0], err)
	}
	cmd.peer = peer
	return cmd, nil
}
