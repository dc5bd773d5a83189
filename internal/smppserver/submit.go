package smppserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/google/uuid"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/logging"
	"github.com/kelvradu/smppgate/internal/multipart"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/pkg/smpputil"
)

const esmClassUDHIMask = 0x40

// handleSubmitSM admits one submission: the data-coding and credit gates
// run on the raw body before any message id is minted, then the PDU is
// decoded and routed to reassembly or straight to the outbound list.
func (s *Server) handleSubmitSM(ctx context.Context, cc *clientConn, sess *session.SpSession, hdr PDUHeader, body []byte) {
	dataCoding, ok := smpputil.ParseSubmitDataCoding(body)
	if !ok {
		slog.WarnContext(ctx, "Malformed submit_sm body")
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvMsgLen)
		return
	}
	if !smpputil.IsValidDataCoding(dataCoding) {
		slog.WarnContext(ctx, "Rejecting submit_sm with unsupported data coding",
			slog.Int("data_coding", dataCoding))
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvDcs)
		return
	}
	if !sess.HasAvailableCredit() {
		slog.WarnContext(ctx, "Rejecting submit_sm: no available credit")
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusThrottled)
		return
	}

	parsed, err := pdu.Parse(bufio.NewReader(bytes.NewReader(rawPDU(hdr, body))))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse submit_sm PDU", slog.Any("error", err))
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvMsgLen)
		return
	}
	submitSM, ok := parsed.(*pdu.SubmitSM)
	if !ok {
		slog.WarnContext(ctx, "Parsed PDU is not a submit_sm")
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvCmdID)
		return
	}

	encodingID := smpputil.ResolveEncodingID(dataCoding, s.deps.Settings.Current())
	text, err := submitSM.Message.GetMessageWithEncoding(smpputil.EncodingFor(encodingID))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decode short_message", slog.Any("error", err))
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvMsgLen)
		return
	}

	provider := sess.Provider()
	registered := int(submitSM.RegisteredDelivery)
	if provider.RequestDLR && registered == 0 {
		// tenant is configured to always receive delivery receipts
		registered = 1
	}

	msgID := uuid.NewString()
	ctx = logging.ContextWithMessageID(ctx, msgID)

	event := &sp.MessageEvent{
		ID:                 msgID,
		MessageID:          msgID,
		SystemID:           provider.SystemID,
		OriginNetworkID:    provider.NetworkID,
		OriginNetworkType:  "SP",
		OriginProtocol:     "SMPP",
		SourceAddrTon:      int(submitSM.SourceAddr.Ton()),
		SourceAddrNpi:      int(submitSM.SourceAddr.Npi()),
		SourceAddr:         submitSM.SourceAddr.Address(),
		DestAddrTon:        int(submitSM.DestAddr.Ton()),
		DestAddrNpi:        int(submitSM.DestAddr.Npi()),
		DestinationAddr:    submitSM.DestAddr.Address(),
		EsmClass:           int(submitSM.EsmClass),
		ValidityPeriod:     submitSM.ValidityPeriod,
		RegisteredDelivery: registered,
		DataCoding:         dataCoding,
		SmDefaultMsgID:     int(submitSM.Message.SmDefaultMsgID),
		ShortMessage:       text,
		SequenceNumber:     int(hdr.SequenceNumber),
	}
	if submitSM.EsmClass&esmClassUDHIMask != 0 {
		event.Udhi = "1"
	}

	if info, isConcat := concatInfo(submitSM, body); isConcat {
		event.ShortMessage = ""
		s.deps.Reassembler.ProcessSegment(ctx, event, multipart.Segment{
			ReferenceNumber: info.ReferenceNumber,
			TotalSegments:   info.TotalSegments,
			SegmentSequence: info.SegmentSequence,
			ShortMessage:    text,
		})
	} else if !s.enqueue(ctx, cc, hdr, event) {
		return
	}

	resp := submitSM.GetResponse().(*pdu.SubmitSMResp)
	resp.MessageID = msgID
	respBuf := pdu.NewBuffer(nil)
	resp.Marshal(respBuf)
	if err := cc.WriteRaw(respBuf.Bytes()); err != nil {
		slog.ErrorContext(ctx, "Failed to write submit_sm_resp", slog.Any("error", err))
		return
	}
	slog.DebugContext(ctx, "submit_sm accepted")
}

// enqueue pushes a complete single-part submission onto the outbound list.
func (s *Server) enqueue(ctx context.Context, cc *clientConn, hdr PDUHeader, event *sp.MessageEvent) bool {
	encoded, err := event.Encode()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode message event", slog.Any("error", err))
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusSystemError)
		return false
	}
	if err := s.deps.Store.ListPush(ctx, s.deps.Keys.PreMessageList, encoded); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue message event", slog.Any("error", err))
		_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusSystemError)
		return false
	}
	s.deps.CDR.Put(ctx, cdr.Detail{
		Module:      cdr.ModuleSMPPServer,
		MessageType: "MESSAGE",
		MessageID:   event.MessageID,
		Status:      cdr.StatusReceived,
		Comment:     "Received from SP",
	})
	return true
}

// concatInfo extracts multipart linkage, preferring UDH concatenation over
// the sar_* optional parameters.
func concatInfo(submitSM *pdu.SubmitSM, body []byte) (smpputil.ConcatInfo, bool) {
	if udh := submitSM.Message.UDH(); udh != nil {
		totalParts, partNum, mref, found := udh.GetConcatInfo()
		if found && totalParts > 1 {
			return smpputil.FromUDH(totalParts, partNum, mref), true
		}
	}
	if info, ok := smpputil.ParseSubmitSAR(body); ok && info.TotalSegments > 1 {
		return info, true
	}
	return smpputil.ConcatInfo{}, false
}

// rawPDU reconstructs the full wire PDU from its framed parts.
func rawPDU(hdr PDUHeader, body []byte) []byte {
	buf := make([]byte, 16+len(body))
	binary.BigEndian.PutUint32(buf[0:], uint32(16+len(body)))
	binary.BigEndian.PutUint32(buf[4:], hdr.CommandID)
	binary.BigEndian.PutUint32(buf[8:], hdr.CommandStatus)
	binary.BigEndian.PutUint32(buf[12:], hdr.SequenceNumber)
	copy(buf[16:], body)
	return buf
}
