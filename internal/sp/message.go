package sp

import "encoding/json"

// OptionalParameter is one TLV carried through unchanged.
type OptionalParameter struct {
	Tag   uint16 `json:"tag"`
	Value string `json:"value"`
}

// MessagePart is one physical segment of a concatenated message. It only
// exists inside the reassembly buffer and on its persisted snapshot.
type MessagePart struct {
	MessageID          string `json:"message_id"`
	ShortMessage       string `json:"short_message"`
	MsgReferenceNumber string `json:"msg_reference_number"`
	TotalSegment       int    `json:"total_segment"`
	SegmentSequence    int    `json:"segment_sequence"`
	UdhJSON            string `json:"udh_json,omitempty"`
}

// MessageEvent is the logical message unit flowing through the gateway:
// a decoded submission on the way out, or a deliver_sm notification on the
// way back in. It is handed between processes as JSON on the store queues.
type MessageEvent struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	ParentID  string `json:"parent_id,omitempty"`

	SystemID          string `json:"system_id,omitempty"`
	OriginNetworkID   int    `json:"origin_network_id,omitempty"`
	DestNetworkID     int    `json:"dest_network_id,omitempty"`
	OriginNetworkType string `json:"origin_network_type,omitempty"`
	OriginProtocol    string `json:"origin_protocol,omitempty"`

	SourceAddrTon   int    `json:"source_addr_ton"`
	SourceAddrNpi   int    `json:"source_addr_npi"`
	SourceAddr      string `json:"source_addr"`
	DestAddrTon     int    `json:"dest_addr_ton"`
	DestAddrNpi     int    `json:"dest_addr_npi"`
	DestinationAddr string `json:"destination_addr"`

	EsmClass           int    `json:"esm_class"`
	ValidityPeriod     string `json:"validity_period,omitempty"`
	RegisteredDelivery int    `json:"registered_delivery"`
	DataCoding         int    `json:"data_coding"`
	SmDefaultMsgID     int    `json:"sm_default_msg_id,omitempty"`
	ShortMessage       string `json:"short_message"`
	DelReceipt         string `json:"del_receipt,omitempty"`
	Udhi               string `json:"udhi,omitempty"`

	MsgReferenceNumber string        `json:"msg_reference_number,omitempty"`
	TotalSegment       int           `json:"total_segment,omitempty"`
	SegmentSequence    int           `json:"segment_sequence,omitempty"`
	MessageParts       []MessagePart `json:"message_parts,omitempty"`

	OptionalParameters []OptionalParameter `json:"optional_parameters,omitempty"`

	CommandStatus  int `json:"command_status,omitempty"`
	SequenceNumber int `json:"sequence_number,omitempty"`
}

// Encode serializes the event for the store queues.
func (e *MessageEvent) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMessageEvent parses a queued event.
func DecodeMessageEvent(raw string) (*MessageEvent, error) {
	var e MessageEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
