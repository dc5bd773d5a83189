// Package dispatch moves outbound notification messages (delivery
// receipts and mobile-terminated traffic) from the external queue to bound
// client connections.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/linxGnu/gosmpp/pdu"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/pkg/smpputil"
)

const esmClassDeliveryReceipt = 0x04
const esmClassUDHI = 0x40

// Deliverer renders deliver_sm PDUs and writes them through a session's
// round-robin connection. It implements session.DeliverSender for both the
// periodic dispatcher and the first-bind pending drain.
type Deliverer struct {
	settings     *registry.GeneralSettingsCache
	cdrProcessor cdr.Processor

	sequence atomic.Int32
}

var _ session.DeliverSender = (*Deliverer)(nil)

func NewDeliverer(settings *registry.GeneralSettingsCache, processor cdr.Processor) *Deliverer {
	return &Deliverer{settings: settings, cdrProcessor: processor}
}

// SendDeliver picks the next live connection and writes the rendered
// notification. ErrNoLiveConn propagates so callers can fall back to the
// pending queue; a transport failure is audited FAILED and consumed, since
// the item has already left its source queue.
func (d *Deliverer) SendDeliver(ctx context.Context, sess *session.SpSession, event *sp.MessageEvent) error {
	conn := sess.NextRoundRobin()
	if conn == nil {
		return session.ErrNoLiveConn
	}

	raw, err := d.render(event)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to render deliver_sm",
			slog.String("message_id", event.MessageID), slog.Any("error", err))
		d.audit(ctx, event, cdr.StatusFailed)
		return nil
	}

	if err := conn.WriteRaw(raw); err != nil {
		slog.ErrorContext(ctx, "Failed to write deliver_sm",
			slog.String("message_id", event.MessageID),
			slog.String("conn_id", conn.ID()), slog.Any("error", err))
		d.audit(ctx, event, cdr.StatusFailed)
		return nil
	}

	d.audit(ctx, event, cdr.StatusSent)
	d.cdrProcessor.Finalize(ctx, event.MessageID)
	return nil
}

func (d *Deliverer) audit(ctx context.Context, event *sp.MessageEvent, status string) {
	d.cdrProcessor.Put(ctx, cdr.Detail{
		Module:      cdr.ModuleSMPPServer,
		MessageType: "DELIVER",
		MessageID:   event.MessageID,
		Status:      status,
		Comment:     "Sent to SP",
	})
}

// render marshals the notification as a deliver_sm PDU using the tenant's
// resolved character encoding.
func (d *Deliverer) render(event *sp.MessageEvent) ([]byte, error) {
	p := pdu.NewDeliverSM().(*pdu.DeliverSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(byte(event.SourceAddrTon))
	srcAddr.SetNpi(byte(event.SourceAddrNpi))
	if err := srcAddr.SetAddress(event.SourceAddr); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", event.SourceAddr, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(byte(event.DestAddrTon))
	destAddr.SetNpi(byte(event.DestAddrNpi))
	if err := destAddr.SetAddress(event.DestinationAddr); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", event.DestinationAddr, err)
	}
	p.DestAddr = destAddr

	text := event.DelReceipt
	if text == "" {
		text = event.ShortMessage
	}
	encodingID := smpputil.ResolveEncodingID(event.DataCoding, d.settings.Current())
	if err := p.Message.SetMessageWithEncoding(text, smpputil.EncodingFor(encodingID)); err != nil {
		return nil, fmt.Errorf("encode deliver_sm text: %w", err)
	}

	esmClass := byte(esmClassDeliveryReceipt)
	if event.EsmClass != 0 {
		esmClass = byte(event.EsmClass)
		if event.Udhi == "1" {
			esmClass |= esmClassUDHI
		}
	}
	p.EsmClass = esmClass
	p.RegisteredDelivery = 0
	p.SetSequenceNumber(d.sequence.Add(1))

	buf := pdu.NewBuffer(nil)
	p.Marshal(buf)
	return buf.Bytes(), nil
}
