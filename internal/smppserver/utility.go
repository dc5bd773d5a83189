package smppserver

import "fmt"

// commandIDToString converts command ID to string for logging
func commandIDToString(cmdID uint32) string {
	switch cmdID {
	case CommandBindTransceiver:
		return "BindTransceiver"
	case CommandBindReceiver:
		return "BindReceiver"
	case CommandBindTransmitter:
		return "BindTransmitter"
	case CommandSubmitSM:
		return "SubmitSM"
	case CommandDeliverSM:
		return "DeliverSM"
	case CommandUnbind:
		return "Unbind"
	case CommandEnquireLink:
		return "EnquireLink"
	case CommandGenericNack:
		return "GenericNack"
	case CommandBindReceiverResp:
		return "BindReceiverResp"
	case CommandBindTransmitResp:
		return "BindTransmitterResp"
	case CommandBindTRXResp:
		return "BindTransceiverResp"
	case CommandSubmitSMResp:
		return "SubmitSMResp"
	case CommandDeliverSMResp:
		return "DeliverSMResp"
	case CommandUnbindResp:
		return "UnbindResp"
	case CommandEnquireLinkResp:
		return "EnquireLinkResp"
	default:
		return fmt.Sprintf("Unknown(0x%X)", cmdID)
	}
}

// isBindCommand reports whether the command ID is one of the three bind
// requests.
func isBindCommand(cmdID uint32) bool {
	switch cmdID {
	case CommandBindTransceiver, CommandBindReceiver, CommandBindTransmitter:
		return true
	default:
		return false
	}
}

// bindRespCommand maps a bind request to its response command ID.
func bindRespCommand(cmdID uint32) uint32 {
	return cmdID | 0x80000000
}
