package main

import "sync/atomic"

type metrics struct {
	rawMessages    atomic.Uint64
	imageMessages  atomic.Uint64
	resetMessages  atomic.Uint64
	rangeMessages  atomic.Uint64
	gyroMessages   atomic.Uint64
	framesFlowed   atomic.Uint64
	framesRejected atomic.Uint64
	unknownCamera  atomic.Uint64
	resets         atomic.Uint64
	reloads        atomic.Uint64
	processCount   atomic.Uint64
	processNanos   atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"raw_messages_total":    m.rawMessages.Load(),
		"image_messages_total":  m.imageMessages.Load(),
		"reset_messages_total":  m.resetMessages.Load(),
		"range_messages_total":  m.rangeMessages.Load(),
		"gyro_messages_total":   m.gyroMessages.Load(),
		"frames_flowed_total":   m.framesFlowed.Load(),
		"frames_rejected_total": m.framesRejected.Load(),
		"unknown_camera_total":  m.unknownCamera.Load(),
		"resets_total":          m.resets.Load(),
		"config_reloads_total":  m.reloads.Load(),
		"process_total":         m.processCount.Load(),
		"process_nanos_total":   m.processNanos.Load(),
	}
}
