package smppserver

// SMPP Command IDs (subset needed)
const (
	CommandBindReceiver     uint32 = 0x00000001
	CommandBindTransmitter  uint32 = 0x00000002
	CommandSubmitSM         uint32 = 0x00000004
	CommandDeliverSM        uint32 = 0x00000005
	CommandUnbind           uint32 = 0x00000006
	CommandBindTransceiver  uint32 = 0x00000009
	CommandEnquireLink      uint32 = 0x00000015
	CommandGenericNack      uint32 = 0x80000000
	CommandBindReceiverResp uint32 = 0x80000001
	CommandBindTransmitResp uint32 = 0x80000002
	CommandSubmitSMResp     uint32 = 0x80000004
	CommandDeliverSMResp    uint32 = 0x80000005
	CommandUnbindResp       uint32 = 0x80000006
	CommandBindTRXResp      uint32 = 0x80000009
	CommandEnquireLinkResp  uint32 = 0x80000015
)

// SMPP Command Status Codes (subset needed)
const (
	StatusOk          uint32 = 0x00000000 // ESME_ROK
	StatusInvMsgLen   uint32 = 0x00000001 // Invalid Message Length
	StatusInvCmdID    uint32 = 0x00000003 // Invalid Command ID
	StatusInvBndSts   uint32 = 0x00000004 // Invalid Bind Status
	StatusSystemError uint32 = 0x00000008 // System Error
	StatusBindFailed  uint32 = 0x0000000D // Bind Failed
	StatusInvPasswd   uint32 = 0x0000000E // Invalid Password
	StatusInvSysID    uint32 = 0x0000000F // Invalid System ID
	StatusThrottled   uint32 = 0x00000058 // Throttling error (no available credit)
	StatusInvDcs      uint32 = 0x00000104 // Invalid data_coding scheme
)
