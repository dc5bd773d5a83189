// Package smpputil holds small SMPP helpers: data-coding validation,
// character-encoding resolution and concatenation metadata extraction.
package smpputil

import (
	"github.com/linxGnu/gosmpp/data"

	"github.com/kelvradu/smppgate/internal/sp"
)

// Data coding scheme values accepted from clients.
const (
	DataCodingDefault = 0 // SMSC default alphabet (GSM 7-bit)
	DataCodingLatin1  = 3
	DataCodingUCS2    = 8
)

// Internal encoding ids as carried on the general settings record.
const (
	EncodingGsm7     = 0
	EncodingUtf8     = 1
	EncodingUcs2     = 2
	EncodingIso88591 = 3
)

// IsValidDataCoding reports whether the submission's data coding is in the
// supported allow-set.
func IsValidDataCoding(dataCoding int) bool {
	switch dataCoding {
	case DataCodingDefault, DataCodingLatin1, DataCodingUCS2:
		return true
	default:
		return false
	}
}

// ResolveEncodingID maps a PDU data coding to the encoding id configured on
// the general settings. Unknown codings fall back to the GSM 7-bit setting.
func ResolveEncodingID(dataCoding int, gs *sp.GeneralSettings) int {
	switch dataCoding {
	case DataCodingUCS2:
		return gs.EncodingUcs2
	case DataCodingLatin1:
		return gs.EncodingIso88591
	default:
		return gs.EncodingGsm7
	}
}

// EncodingFor returns the gosmpp codec for an internal encoding id.
func EncodingFor(encodingID int) data.Encoding {
	switch encodingID {
	case EncodingUcs2:
		return data.UCS2
	case EncodingIso88591:
		return data.LATIN1
	case EncodingUtf8:
		return data.ASCII
	default:
		return data.GSM7BIT
	}
}
