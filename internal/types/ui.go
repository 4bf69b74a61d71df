package types

// FlowUpdate is what the live monitor pushes to websocket clients.
type FlowUpdate struct {
	Type      string      `json:"type"`
	Camera    string      `json:"camera"`
	ImageID   int         `json:"image_id"`
	StartTime float64     `json:"start_time"`
	Record    OpticalFlow `json:"record"`
}

// CameraStatus is the per-camera view exposed by /status.
type CameraStatus struct {
	Active     bool    `json:"active"`
	Error      string  `json:"error,omitempty"`
	Frames     uint64  `json:"frames"`
	LateFrames uint64  `json:"late_frames"`
	Fallbacks  uint64  `json:"dt_fallbacks"`
	LastDtUs   uint32  `json:"last_dt_us"`
	LastWallUs int64   `json:"last_wall_us"`
	Quality    uint8   `json:"quality"`
	FocalPx    float64 `json:"focal_px"`
}
