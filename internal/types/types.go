package types

// Frame is one rendered image as handed over by a frame source. Data is not
// owned by the receiver and is only valid for the duration of the call that
// delivered it.
type Frame struct {
	Camera    string  `json:"camera"`
	ImageID   int     `json:"image_id"`
	StartTime float64 `json:"start_time"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Depth     int     `json:"depth"`
	Format    string  `json:"format"`
	Rate      float64 `json:"rate"`
	Data      []byte  `json:"-"`
}

// FlowEstimate is the per-frame output of the estimator after angular
// conversion. IntegratedX/Y are angles accumulated over the interval.
type FlowEstimate struct {
	PixelX        float64 `json:"pixel_x"`
	PixelY        float64 `json:"pixel_y"`
	IntegratedX   float64 `json:"integrated_x"`
	IntegratedY   float64 `json:"integrated_y"`
	Quality       uint8   `json:"quality"`
	IntegrationUs uint32  `json:"integration_time_us"`
}

// OpticalFlow is the record handed to the transport. Field order is part of
// the wire contract: CBOR encodes it as a fixed-position array.
type OpticalFlow struct {
	_                   struct{} `cbor:",toarray"`
	SensorID            int32    `json:"sensor_id"`
	TimeUsec            uint64   `json:"time_usec"`
	IntegrationTimeUs   uint32   `json:"integration_time_us"`
	IntegratedX         float32  `json:"integrated_x"`
	IntegratedY         float32  `json:"integrated_y"`
	IntegratedXGyro     float32  `json:"integrated_xgyro"`
	IntegratedYGyro     float32  `json:"integrated_ygyro"`
	IntegratedZGyro     float32  `json:"integrated_zgyro"`
	Temperature         float32  `json:"temperature"`
	Quality             uint8    `json:"quality"`
	TimeDeltaDistanceUs uint32   `json:"time_delta_distance_us"`
	Distance            float32  `json:"distance"`
}

// Range is a single distance sample from a lidar or sonar.
type Range struct {
	_               struct{} `cbor:",toarray"`
	TimeUsec        uint64   `json:"time_usec"`
	MinDistance     float64  `json:"min_distance"`
	MaxDistance     float64  `json:"max_distance"`
	CurrentDistance float64  `json:"current_distance"`
	HFOV            float64  `json:"h_fov"`
	VFOV            float64  `json:"v_fov"`
	Rotation        uint8    `json:"rotation"`
}

// BodyRate is an angular velocity sample in rad/s, body frame.
type BodyRate struct {
	TimeUsec uint64  `json:"time_usec"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
}

// ResetCommand asks for the simulated state to be reset. Only X == 1 triggers
// a reset.
type ResetCommand struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (c ResetCommand) Triggered() bool {
	return c.X == 1
}

const (
	MessageImage = "image"
	MessageReset = "reset"
	MessageRange = "range"
	MessageGyro  = "gyro"
)

// RawMessage is anything a frame source can deliver to the frame loop.
type RawMessage struct {
	Type  string
	Image Frame
	Reset ResetCommand
	Range Range
	Gyro  BodyRate
}

// RecordMeta identifies the frame a record was produced from, without
// holding on to its pixels.
type RecordMeta struct {
	Camera    string  `json:"camera"`
	ImageID   int     `json:"image_id"`
	StartTime float64 `json:"start_time"`
}

func (f Frame) Meta() RecordMeta {
	return RecordMeta{Camera: f.Camera, ImageID: f.ImageID, StartTime: f.StartTime}
}
