package hl7

import (
	"fmt"
	"time"
)

// Acknowledgment codes returned in MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// BuildAck constructs an ACK for the original message: an MSH with the
// sending/receiving pair swapped plus an MSA carrying the code and the
// original control id. The raw text is derived through the serializer so
// the tree and the text agree.
func BuildAck(original *Message, code, text string) *Message {
	ack := NewMessage()
	ack.Type = MessageTypeACK

	controlID := ""
	version := "2.5"
	sendingApp := ""
	sendingFacility := ""
	typeCode := "ACK"
	if original != nil {
		controlID = original.MessageControlID
		sendingApp = original.SendingApplication
		sendingFacility = original.SendingFacility
		if original.Version != "" {
			version = original.Version
		}
		if original.Type != MessageTypeUnknown {
			typeCode = "ACK^" + triggerEvent(original)
		}
	}

	now := time.Now().Format("20060102150405")
	ackControlID := controlID
	if ackControlID == "" {
		ackControlID = fmt.Sprintf("ACK%d", time.Now().Unix())
	}

	msh := &Segment{Type: headerSegment}
	msh.SetField(1, "|", ack.Delimiters)
	msh.SetField(2, `^~\&`, ack.Delimiters)
	msh.SetField(3, "HL7GATEWAY", ack.Delimiters)
	msh.SetField(4, "MINASOFT", ack.Delimiters)
	msh.SetField(5, sendingApp, ack.Delimiters)
	msh.SetField(6, sendingFacility, ack.Delimiters)
	msh.SetField(7, now, ack.Delimiters)
	msh.SetField(9, typeCode, ack.Delimiters)
	msh.SetField(10, ackControlID, ack.Delimiters)
	msh.SetField(11, "P", ack.Delimiters)
	msh.SetField(12, version, ack.Delimiters)
	ack.AddSegment(msh)

	msa := &Segment{Type: "MSA"}
	msa.SetField(1, code, ack.Delimiters)
	msa.SetField(2, controlID, ack.Delimiters)
	if text != "" {
		msa.SetField(3, text, ack.Delimiters)
	}
	ack.AddSegment(msa)

	ack.MessageControlID = ackControlID
	ack.ReceivingApplication = sendingApp
	ack.ReceivingFacility = sendingFacility
	ack.RebuildRawData()
	return ack
}

// triggerEvent extracts the trigger event of MSH-9 from the original
// message, e.g. "A01" for an ADT^A01.
func triggerEvent(original *Message) string {
	if msh := original.GetSegment(headerSegment); msh != nil {
		if f := msh.GetField(9); f != nil {
			if ev := f.GetComponent(2); ev != "" {
				return ev
			}
			return f.GetComponent(1)
		}
	}
	return original.Type.String()
}
