package smpputil

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// ConcatInfo is the normalized multipart linkage of one segment, whether
// it arrived UDH-embedded or as SAR optional parameters.
type ConcatInfo struct {
	ReferenceNumber string
	TotalSegments   int
	SegmentSequence int
}

// SAR optional parameter tags (SMPP 3.4 §5.3.2).
const (
	tagSarMsgRefNum     uint16 = 0x020C
	tagSarTotalSegments uint16 = 0x020E
	tagSarSegmentSeqnum uint16 = 0x020F
)

// FromUDH builds ConcatInfo from the 8-bit concatenation info element.
func FromUDH(totalParts, partNum, mref byte) ConcatInfo {
	return ConcatInfo{
		ReferenceNumber: strconv.Itoa(int(mref)),
		TotalSegments:   int(totalParts),
		SegmentSequence: int(partNum),
	}
}

// ParseSubmitDataCoding extracts the data_coding byte from a raw submit_sm
// body, so the coding can be validated before any PDU-level decoding.
func ParseSubmitDataCoding(body []byte) (int, bool) {
	layout, ok := parseSubmitLayout(body)
	if !ok {
		return 0, false
	}
	return int(body[layout.dataCodingOffset]), true
}

// ParseSubmitSAR scans the raw submit_sm body for the sar_* optional
// parameters and returns the normalized linkage if all three are present.
// The body is the PDU payload after the 16-byte header.
func ParseSubmitSAR(body []byte) (ConcatInfo, bool) {
	layout, ok := parseSubmitLayout(body)
	if !ok {
		return ConcatInfo{}, false
	}
	tail := body[layout.optionalOffset:]

	var (
		info             ConcatInfo
		haveRef, haveTot bool
		haveSeq          bool
	)
	for len(tail) >= 4 {
		tag := binary.BigEndian.Uint16(tail[0:2])
		length := int(binary.BigEndian.Uint16(tail[2:4]))
		tail = tail[4:]
		if length > len(tail) {
			return ConcatInfo{}, false
		}
		value := tail[:length]
		tail = tail[length:]

		switch tag {
		case tagSarMsgRefNum:
			if length == 2 {
				info.ReferenceNumber = strconv.Itoa(int(binary.BigEndian.Uint16(value)))
				haveRef = true
			}
		case tagSarTotalSegments:
			if length == 1 {
				info.TotalSegments = int(value[0])
				haveTot = true
			}
		case tagSarSegmentSeqnum:
			if length == 1 {
				info.SegmentSequence = int(value[0])
				haveSeq = true
			}
		}
	}
	return info, haveRef && haveTot && haveSeq
}

// submitLayout records where the interesting mandatory fields sit inside a
// raw submit_sm body.
type submitLayout struct {
	dataCodingOffset int
	optionalOffset   int
}

// parseSubmitLayout walks the mandatory submit_sm fields.
func parseSubmitLayout(body []byte) (submitLayout, bool) {
	offset := 0

	skipCString := func() bool {
		idx := bytes.IndexByte(body[offset:], 0x00)
		if idx == -1 {
			return false
		}
		offset += idx + 1
		return true
	}
	skipBytes := func(n int) bool {
		if offset+n > len(body) {
			return false
		}
		offset += n
		return true
	}

	if !skipCString() { // service_type
		return submitLayout{}, false
	}
	if !skipBytes(2) || !skipCString() { // source ton, npi, addr
		return submitLayout{}, false
	}
	if !skipBytes(2) || !skipCString() { // dest ton, npi, addr
		return submitLayout{}, false
	}
	if !skipBytes(3) { // esm_class, protocol_id, priority_flag
		return submitLayout{}, false
	}
	if !skipCString() || !skipCString() { // schedule_delivery_time, validity_period
		return submitLayout{}, false
	}
	dataCodingOffset := offset + 2
	if !skipBytes(4) { // registered_delivery, replace_if_present, data_coding, sm_default_msg_id
		return submitLayout{}, false
	}
	if offset >= len(body) {
		return submitLayout{}, false
	}
	smLength := int(body[offset])
	if !skipBytes(1 + smLength) {
		return submitLayout{}, false
	}
	return submitLayout{dataCodingOffset: dataCodingOffset, optionalOffset: offset}, true
}
