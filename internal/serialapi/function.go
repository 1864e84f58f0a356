package serialapi

import "fmt"

// FunctionID selects the serial API function (and thus the processor) of a frame.
type FunctionID uint8

// Serial API function ids.
const (
	FuncSerialAPIGetInitData      FunctionID = 0x02
	FuncApplicationCommandHandler FunctionID = 0x04
	FuncSerialAPIGetCapabilities  FunctionID = 0x07
	FuncSerialAPISoftReset        FunctionID = 0x08
	FuncSendData                  FunctionID = 0x13
	FuncGetVersion                FunctionID = 0x15
	FuncMemoryGetID               FunctionID = 0x20
	FuncGetNodeProtocolInfo       FunctionID = 0x41
	FuncSetDefault                FunctionID = 0x42
	FuncApplicationUpdate         FunctionID = 0x49
	FuncAddNodeToNetwork          FunctionID = 0x4A
	FuncRemoveNodeFromNetwork     FunctionID = 0x4B
	FuncRequestNodeInfo           FunctionID = 0x60
)

var functionNames = map[FunctionID]string{
	FuncSerialAPIGetInitData:      "SerialApiGetInitData",
	FuncApplicationCommandHandler: "ApplicationCommandHandler",
	FuncSerialAPIGetCapabilities:  "SerialApiGetCapabilities",
	FuncSerialAPISoftReset:        "SerialApiSoftReset",
	FuncSendData:                  "SendData",
	FuncGetVersion:                "GetVersion",
	FuncMemoryGetID:               "MemoryGetId",
	FuncGetNodeProtocolInfo:       "GetNodeProtocolInfo",
	FuncSetDefault:                "SetDefault",
	FuncApplicationUpdate:         "ApplicationUpdate",
	FuncAddNodeToNetwork:          "AddNodeToNetwork",
	FuncRemoveNodeFromNetwork:     "RemoveNodeFromNetwork",
	FuncRequestNodeInfo:           "RequestNodeInfo",
}

// String returns a human-readable name for a function id.
func (f FunctionID) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(f))
}
