package flow

import "optflow-sim-go/internal/types"

// NominalTemperature is reported in every record; the simulated sensor has
// no thermal model.
const NominalTemperature = 20.0

// BuildRecord fills the fields the flow core is responsible for. Capture
// time, gyro integrals and distance are zero placeholders owned by the
// downstream aggregator.
func BuildRecord(sensorID int32, est types.FlowEstimate) types.OpticalFlow {
	return types.OpticalFlow{
		SensorID:            sensorID,
		TimeUsec:            0,
		IntegrationTimeUs:   est.IntegrationUs,
		IntegratedX:         float32(est.IntegratedX),
		IntegratedY:         float32(est.IntegratedY),
		IntegratedXGyro:     0,
		IntegratedYGyro:     0,
		IntegratedZGyro:     0,
		Temperature:         NominalTemperature,
		Quality:             est.Quality,
		TimeDeltaDistanceUs: 0,
		Distance:            0,
	}
}
