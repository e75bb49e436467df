package protocol

import "fmt"

// Code identifies a request or response packet
type Code uint8

// Request codes (host -> printer)
const (
	CodeStartPrint          Code = 0x01
	CodeStartPagePrint      Code = 0x03
	CodeSetDimension        Code = 0x13
	CodeSetQuantity         Code = 0x15
	CodeGetRFID             Code = 0x1A
	CodeAllowPrintClear     Code = 0x20
	CodeSetLabelDensity     Code = 0x21
	CodeSetLabelType        Code = 0x23
	CodeSetAutoShutdownTime Code = 0x27
	CodeGetInfo             Code = 0x40
	CodePrintBitmapRow      Code = 0x85
	CodeGetPrintStatus      Code = 0xA3
	CodeCancelPrint         Code = 0xDA
	CodeHeartbeat           Code = 0xDC
	CodeEndPagePrint        Code = 0xE3
	CodeEndPrint            Code = 0xF3
)

// Response codes (printer -> host)
const (
	CodeStartPrintAck          Code = 0x02
	CodeStartPagePrintAck      Code = 0x04
	CodeSetDimensionAck        Code = 0x14
	CodeSetQuantityAck         Code = 0x16
	CodeRFIDInfo               Code = 0x1B
	CodeAllowPrintClearAck     Code = 0x30
	CodeSetLabelDensityAck     Code = 0x31
	CodeSetLabelTypeAck        Code = 0x33
	CodeSetAutoShutdownTimeAck Code = 0x37
	CodeInfoDensity            Code = 0x41
	CodeInfoLabelType          Code = 0x43
	CodeInfoAutoShutdownTime   Code = 0x47
	CodeInfoDeviceType         Code = 0x48
	CodeInfoSoftwareVersion    Code = 0x49
	CodeInfoBattery            Code = 0x4A
	CodeInfoSerialNumber       Code = 0x4B
	CodeInfoHardwareVersion    Code = 0x4C
	CodePrintStatus            Code = 0xB3
	CodeCancelPrintAck         Code = 0xD0
	CodePrinterCheckLine       Code = 0xD3
	CodeEndPagePrintAck        Code = 0xE4
	CodeEndPrintAck            Code = 0xF4
)

// InfoKey selects the value returned by a GetInfo request.
// The printer answers with code CodeGetInfo+key.
type InfoKey uint8

const (
	InfoDensity          InfoKey = 1
	InfoLabelType        InfoKey = 3
	InfoAutoShutdownTime InfoKey = 7
	InfoDeviceType       InfoKey = 8
	InfoSoftwareVersion  InfoKey = 9
	InfoBattery          InfoKey = 10
	InfoSerialNumber     InfoKey = 11
	InfoHardwareVersion  InfoKey = 12
)

// ResponseCode returns the code the printer answers a GetInfo for key with
func (k InfoKey) ResponseCode() Code {
	return CodeGetInfo + Code(k)
}

var codeNames = map[Code]string{
	CodeStartPrint:          "StartPrint",
	CodeStartPagePrint:      "StartPagePrint",
	CodeSetDimension:        "SetDimension",
	CodeSetQuantity:         "SetQuantity",
	CodeGetRFID:             "GetRFID",
	CodeAllowPrintClear:     "AllowPrintClear",
	CodeSetLabelDensity:     "SetLabelDensity",
	CodeSetLabelType:        "SetLabelType",
	CodeSetAutoShutdownTime: "SetAutoShutdownTime",
	CodeGetInfo:             "GetInfo",
	CodePrintBitmapRow:      "PrintBitmapRow",
	CodeGetPrintStatus:      "GetPrintStatus",
	CodeCancelPrint:         "CancelPrint",
	CodeHeartbeat:           "Heartbeat",
	CodeEndPagePrint:        "EndPagePrint",
	CodeEndPrint:            "EndPrint",

	CodeStartPrintAck:          "StartPrintAck",
	CodeStartPagePrintAck:      "StartPagePrintAck",
	CodeSetDimensionAck:        "SetDimensionAck",
	CodeSetQuantityAck:         "SetQuantityAck",
	CodeRFIDInfo:               "RFIDInfo",
	CodeAllowPrintClearAck:     "AllowPrintClearAck",
	CodeSetLabelDensityAck:     "SetLabelDensityAck",
	CodeSetLabelTypeAck:        "SetLabelTypeAck",
	CodeSetAutoShutdownTimeAck: "SetAutoShutdownTimeAck",
	CodeInfoDensity:            "InfoDensity",
	CodeInfoLabelType:          "InfoLabelType",
	CodeInfoAutoShutdownTime:   "InfoAutoShutdownTime",
	CodeInfoDeviceType:         "InfoDeviceType",
	CodeInfoSoftwareVersion:    "InfoSoftwareVersion",
	CodeInfoBattery:            "InfoBattery",
	CodeInfoSerialNumber:       "InfoSerialNumber",
	CodeInfoHardwareVersion:    "InfoHardwareVersion",
	CodePrintStatus:            "PrintStatus",
	CodeCancelPrintAck:         "CancelPrintAck",
	CodePrinterCheckLine:       "PrinterCheckLine",
	CodeEndPagePrintAck:        "EndPagePrintAck",
	CodeEndPrintAck:            "EndPrintAck",
}

// Known reports whether c belongs to the protocol's code table
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(0x%02X)", uint8(c))
}
