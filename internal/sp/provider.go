// Package sp holds the service-provider domain types shared across the
// gateway: the tenant record, the cached protocol defaults and the message
// event that travels through the store queues.
package sp

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Lifecycle status of a service provider.
const (
	StatusStarted   = "STARTED"
	StatusStopped   = "STOPPED"
	StatusBinding   = "BINDING"
	StatusBound     = "BOUND"
	StatusUnbinding = "UNBINDING"
)

// Bind types as stored on the tenant record.
const (
	BindTransceiver = "TRANSCEIVER"
	BindTransmitter = "TRANSMITTER"
	BindReceiver    = "RECEIVER"
)

// ServiceProvider is one tenant's configuration as persisted on the
// external store. The record is replaced wholesale on update notifications
// and never partially mutated by more than one state listener at a time.
type ServiceProvider struct {
	NetworkID          int             `json:"network_id"`
	Name               string          `json:"name"`
	SystemID           string          `json:"system_id"`
	Password           string          `json:"password"`
	SystemType         string          `json:"system_type,omitempty"`
	Protocol           string          `json:"protocol"`
	BindType           string          `json:"bind_type"`
	MaxBinds           int             `json:"max_binds"`
	CurrentBindsCount  int             `json:"current_binds_count"`
	Binds              []string        `json:"binds"`
	Status             string          `json:"status"`
	Enabled            int             `json:"enabled"`
	HasAvailableCredit bool            `json:"has_available_credit"`
	Credit             decimal.Decimal `json:"credit"`
	IsPrepaid          bool            `json:"is_prepaid"`
	RequestDLR         bool            `json:"request_dlr"`
	TPS                int             `json:"tps,omitempty"`
	Validity           int             `json:"validity,omitempty"`
	AddressTon         int             `json:"address_ton,omitempty"`
	AddressNpi         int             `json:"address_npi,omitempty"`
	AddressRange       string          `json:"address_range,omitempty"`
	EnquireLinkPeriod  int             `json:"enquire_link_period,omitempty"`
	PduTimeout         int             `json:"pdu_timeout,omitempty"`
}

// Encode serializes the record for the store.
func (p *ServiceProvider) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeServiceProvider parses a stored tenant record.
func DecodeServiceProvider(raw string) (*ServiceProvider, error) {
	var p ServiceProvider
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GeneralSettings are the cached global protocol defaults.
type GeneralSettings struct {
	ID                int `json:"id"`
	ValidityPeriod    int `json:"validity_period"`
	MaxValidityPeriod int `json:"max_validity_period"`
	SourceAddrTon     int `json:"source_addr_ton"`
	SourceAddrNpi     int `json:"source_addr_npi"`
	DestAddrTon       int `json:"dest_addr_ton"`
	DestAddrNpi       int `json:"dest_addr_npi"`
	EncodingGsm7      int `json:"encoding_gsm7"`
	EncodingIso88591  int `json:"encoding_iso88591"`
	EncodingUcs2      int `json:"encoding_ucs2"`
}

// DecodeGeneralSettings parses a stored settings record.
func DecodeGeneralSettings(raw string) (*GeneralSettings, error) {
	var gs GeneralSettings
	if err := json.Unmarshal([]byte(raw), &gs); err != nil {
		return nil, err
	}
	return &gs, nil
}
