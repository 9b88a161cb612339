package hl7

import "strings"

// MessageType enumerates the trigger events this gateway recognizes.
// Unrecognized MSH-9 codes map to MessageTypeUnknown, never an error.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeADTA01
	MessageTypeADTA02
	MessageTypeADTA03
	MessageTypeADTA04
	MessageTypeADTA08
	MessageTypeORMO01
	MessageTypeORUR01
	MessageTypeSIUS12
	MessageTypeMDMT02
	MessageTypeQRYA19
	MessageTypeACK
)

var messageTypeCodes = map[string]MessageType{
	"ADT^A01": MessageTypeADTA01,
	"ADT^A02": MessageTypeADTA02,
	"ADT^A03": MessageTypeADTA03,
	"ADT^A04": MessageTypeADTA04,
	"ADT^A08": MessageTypeADTA08,
	"ORM^O01": MessageTypeORMO01,
	"ORU^R01": MessageTypeORUR01,
	"SIU^S12": MessageTypeSIUS12,
	"MDM^T02": MessageTypeMDMT02,
	"QRY^A19": MessageTypeQRYA19,
	"ACK":     MessageTypeACK,
}

var messageTypeNames = map[MessageType]string{
	MessageTypeUnknown: "Unknown",
	MessageTypeADTA01:  "ADT_A01",
	MessageTypeADTA02:  "ADT_A02",
	MessageTypeADTA03:  "ADT_A03",
	MessageTypeADTA04:  "ADT_A04",
	MessageTypeADTA08:  "ADT_A08",
	MessageTypeORMO01:  "ORM_O01",
	MessageTypeORUR01:  "ORU_R01",
	MessageTypeSIUS12:  "SIU_S12",
	MessageTypeMDMT02:  "MDM_T02",
	MessageTypeQRYA19:  "QRY_A19",
	MessageTypeACK:     "ACK",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// MessageTypeFromCode derives a MessageType from a raw MSH-9 value. Only
// the message code and trigger event are considered; the optional message
// structure component (e.g. ADT^A01^ADT_A01) is ignored.
func MessageTypeFromCode(code string, d Delimiters) MessageType {
	code = strings.TrimSpace(code)
	if code == "" {
		return MessageTypeUnknown
	}
	parts := strings.Split(code, string(d.Component))
	if len(parts) > 2 {
		parts = parts[:2]
	}
	if t, ok := messageTypeCodes[strings.Join(parts, "^")]; ok {
		return t
	}
	return MessageTypeUnknown
}
