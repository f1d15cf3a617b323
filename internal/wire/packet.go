// Package wire implements the framed packet protocol described in spec §4.8
// and §6.1: a varint-prefixed header followed by an explicit-length
// extra-data blob, carried over a mutual-TLS stream. The header itself is
// JSON, in the teacher's ipc.Envelope style; only the outer framing and the
// extra-data trailer are the project-specific binary layout original_source
// uses for its Packet+ByteBuffer wire format.
package wire

// MessageType names one of the fixed set of recognized Packet variants.
type MessageType string

const (
	TypeClientIntro             MessageType = "ClientIntro"
	TypeServerIntro              MessageType = "ServerIntro"
	TypeAuthRequest              MessageType = "AuthRequest"
	TypeServerPartialHashNotify  MessageType = "ServerPartialHashNotify"
	TypeClientNonceNotify        MessageType = "ClientNonceNotify"
	TypeServerNonceNotify        MessageType = "ServerNonceNotify"
	TypeAuthResponse             MessageType = "AuthResponse"
	TypePingRequest              MessageType = "PingRequest"
	TypePingResponse             MessageType = "PingResponse"
	TypeQueryHostCapsRequest     MessageType = "QueryHostCapsRequest"
	TypeQueryHostCapsResponse    MessageType = "QueryHostCapsResponse"
	TypeConfigureStreamRequest   MessageType = "ConfigureStreamRequest"
	TypeConfigureStreamResponse  MessageType = "ConfigureStreamResponse"
	TypeStartStreamRequest       MessageType = "StartStreamRequest"
	TypeStartStreamResponse      MessageType = "StartStreamResponse"
	TypeStopStreamRequest        MessageType = "StopStreamRequest"
	TypeStopStreamResponse       MessageType = "StopStreamResponse"
	TypeDesktopFrame             MessageType = "DesktopFrame"
	TypeCursorShape              MessageType = "CursorShape"
	TypeAudioFrame               MessageType = "AudioFrame"
	TypeServerPerfReport         MessageType = "ServerPerfReport"
)

// Status is the shared result enum carried by several response variants.
type Status string

const (
	StatusOK               Status = "OK"
	StatusAuthRequired     Status = "AUTH_REQUIRED"
	StatusVersionMismatch  Status = "VERSION_MISMATCH"
	StatusIncorrectPIN     Status = "INCORRECT_PIN"
	StatusNonceTooShort    Status = "NONCE_TOO_SHORT"
	StatusUnknownError     Status = "UNKNOWN_ERROR"
	StatusAlreadyStreaming Status = "ALREADY_STREAMING"
	StatusUnsupportedCodec Status = "UNSUPPORTED_CODEC"
	StatusUnknown          Status = "UNKNOWN"
)

// ShapeFormat mirrors frame.CursorShapeFormat on the wire.
type ShapeFormat string

const (
	ShapeFormatRGBA        ShapeFormat = "RGBA"
	ShapeFormatRGBAXor     ShapeFormat = "RGBA_XOR"
	ShapeFormatMonochrome  ShapeFormat = "MONOCHROME"
)

// Packet is the tagged-union header record. ExtraDataLen is always
// authoritative for how many additional bytes follow the header on the
// wire; field zero-values are indistinguishable from "absent" for optional
// fields, which is acceptable here since every variant's reader only looks
// at the fields it expects for that Type.
type Packet struct {
	Type         MessageType `json:"type"`
	ExtraDataLen uint32      `json:"extra_data_len"`

	// ClientIntro / ServerIntro
	ProtocolVersion uint32 `json:"protocol_version,omitempty"`
	CommitName      string `json:"commit_name,omitempty"`
	Status          Status `json:"status,omitempty"`

	// AuthRequest
	Hostname       string `json:"hostname,omitempty"`
	ClientNonceLen uint32 `json:"client_nonce_len,omitempty"`

	// ServerPartialHashNotify
	ServerNonceLen uint32 `json:"server_nonce_len,omitempty"`

	// PingRequest / PingResponse
	ID        uint32 `json:"id,omitempty"`
	LatencyUs uint32 `json:"latency,omitempty"`
	TimeUs    uint64 `json:"time,omitempty"`

	// QueryHostCapsRequest / Response
	Codec        string `json:"codec,omitempty"`
	NativeWidth  uint32 `json:"native_w,omitempty"`
	NativeHeight uint32 `json:"native_h,omitempty"`
	NativeFPSNum int64  `json:"native_fps_num,omitempty"`
	NativeFPSDen int64  `json:"native_fps_den,omitempty"`
	MaxWidth     uint32 `json:"max_w,omitempty"`
	MaxHeight    uint32 `json:"max_h,omitempty"`
	MaxFPSNum    int64  `json:"max_fps_num,omitempty"`
	MaxFPSDen    int64  `json:"max_fps_den,omitempty"`

	// ConfigureStreamRequest
	Width  uint32 `json:"width,omitempty"`
	Height uint32 `json:"height,omitempty"`
	FPSNum int64  `json:"fps_num,omitempty"`
	FPSDen int64  `json:"fps_den,omitempty"`

	// DesktopFrame
	TimeCaptured  int64 `json:"time_captured,omitempty"`
	TimeEncoded   int64 `json:"time_encoded,omitempty"`
	CursorVisible bool  `json:"cursor_visible,omitempty"`
	CursorX       int32 `json:"cursor_x,omitempty"`
	CursorY       int32 `json:"cursor_y,omitempty"`

	// CursorShape
	HotspotX    int32       `json:"hotspot_x,omitempty"`
	HotspotY    int32       `json:"hotspot_y,omitempty"`
	ShapeFormat ShapeFormat `json:"shape_format,omitempty"`

	// AudioFrame
	Channels uint32 `json:"channels,omitempty"`

	// ServerPerfReport
	CaptureMinUs int64 `json:"capture_min,omitempty"`
	CaptureAvgUs int64 `json:"capture_avg,omitempty"`
	CaptureMaxUs int64 `json:"capture_max,omitempty"`
	EncoderMinUs int64 `json:"encoder_min,omitempty"`
	EncoderAvgUs int64 `json:"encoder_avg,omitempty"`
	EncoderMaxUs int64 `json:"encoder_max,omitempty"`
}
