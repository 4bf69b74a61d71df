package enrich

import (
	"optflow-sim-go/internal/flow"
	"optflow-sim-go/internal/types"
)

// RangeSource hands out the most recent distance sample.
type RangeSource interface {
	Latest() (types.Range, bool)
}

// Enricher fills the record fields the flow pipeline leaves at zero and then
// forwards the record. It is called from the frame loop only.
type Enricher struct {
	next   flow.Publisher
	ranges RangeSource

	gyro     types.BodyRate
	haveGyro bool
}

// New wraps next. ranges may be nil when no rangefinder is configured.
func New(next flow.Publisher, ranges RangeSource) *Enricher {
	return &Enricher{next: next, ranges: ranges}
}

func (e *Enricher) UpdateGyro(rate types.BodyRate) {
	e.gyro = rate
	e.haveGyro = true
}

func (e *Enricher) Reset() {
	e.gyro = types.BodyRate{}
	e.haveGyro = false
}

func (e *Enricher) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	e.Apply(meta, &rec)
	if e.next != nil {
		e.next.Publish(meta, rec)
	}
}

// Apply sets time_usec from the capture time, the gyro integrals from the
// latest body rate over the integration interval, and the distance fields
// from the latest range sample.
func (e *Enricher) Apply(meta types.RecordMeta, rec *types.OpticalFlow) {
	if meta.StartTime > 0 {
		rec.TimeUsec = uint64(meta.StartTime * 1e6)
	}

	if e.haveGyro {
		interval := float64(rec.IntegrationTimeUs) / 1e6
		rec.IntegratedXGyro = float32(e.gyro.X * interval)
		rec.IntegratedYGyro = float32(e.gyro.Y * interval)
		rec.IntegratedZGyro = float32(e.gyro.Z * interval)
	}

	if e.ranges == nil {
		return
	}
	sample, ok := e.ranges.Latest()
	if !ok {
		return
	}
	rec.Distance = float32(sample.CurrentDistance)
	if rec.TimeUsec > sample.TimeUsec && sample.TimeUsec > 0 {
		rec.TimeDeltaDistanceUs = uint32(rec.TimeUsec - sample.TimeUsec)
	}
}
