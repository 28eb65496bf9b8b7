package codec

// Instruction names as registered by the program. The discriminator of each is
// SHA-256("global:" + name)[0:8].
const (
	IxRegister            = "register"
	IxInvite              = "invite"
	IxAccept              = "accept"
	IxReject              = "reject"
	IxSendMessage         = "sendmessage"
	IxCreateGroup         = "create_group"
	IxSendMessageToGroup  = "send_message_to_group"
	IxInviteToGroup       = "invite_to_group"
	IxAcceptInviteToGroup = "accept_invite_to_group"
	IxRejectInviteToGroup = "reject_invite_to_group"
	IxJoinGroup           = "join_group"
	IxLeaveGroup          = "leave_group"
)

var instructionNames = []string{
	IxRegister, IxInvite, IxAccept, IxReject, IxSendMessage,
	IxCreateGroup, IxSendMessageToGroup, IxInviteToGroup,
	IxAcceptInviteToGroup, IxRejectInviteToGroup, IxJoinGroup, IxLeaveGroup,
}

// InstructionName maps the leading discriminator of data back to an instruction name.
func InstructionName(data []byte) (string, bool) {
	if len(data) < 8 {
		return "", false
	}
	for _, name := range instructionNames {
		d := Discriminator(name)
		if string(d[:]) == string(data[:8]) {
			return name, true
		}
	}
	return "", false
}
