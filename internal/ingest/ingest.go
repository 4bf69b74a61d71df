package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/types"
)

// recvTimeout bounds how long a receive blocks before ctx is checked again.
const recvTimeout = 200 * time.Millisecond

var decodeFailures atomic.Uint64

// DecodeFailures reports how many messages have been dropped since start.
func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

// Stream returns a channel of messages from an external frame source.
// Expects CBOR maps keyed by "type":
//
//	{ "type": "image", "camera": <str>, "image_id": <int>, "start_time": <float>,
//	  "rate": <float>, "format": "L8", "data": <tag 40 [[rows, cols], tag 64 bytes]> }
//	{ "type": "reset", "x": <float>, "y": <float> }
//	{ "type": "range", "time_usec": <int>, "current_distance": <float> }
//	{ "type": "gyro", "time_usec": <int>, "x": <float>, "y": <float>, "z": <float> }
func Stream(ctx context.Context, endpoint string, logEvery int, log zerolog.Logger) (<-chan types.RawMessage, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	every := logging.NewEveryN(logEvery)
	out := make(chan types.RawMessage, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				if every.Allow() {
					log.Warn().Err(err).Uint64("count", every.Count()).Msg("ingest recv error")
				}
				continue
			}

			raw, err := decodeMessage(msg)
			if err != nil {
				decodeFailures.Add(1)
				if every.Allow() {
					log.Warn().Err(err).Uint64("count", every.Count()).Msg("ingest skipped message")
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- raw:
			}
		}
	}()

	return out, nil
}

func decodeMessage(msg []byte) (types.RawMessage, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return types.RawMessage{}, fmt.Errorf("cbor decode: %w", err)
	}

	msgType, _ := payload["type"].(string)
	switch msgType {
	case types.MessageImage:
		frame, err := decodeImage(payload)
		if err != nil {
			return types.RawMessage{}, err
		}
		return types.RawMessage{Type: msgType, Image: frame}, nil
	case types.MessageReset:
		x, _ := toFloat(payload["x"])
		y, _ := toFloat(payload["y"])
		return types.RawMessage{Type: msgType, Reset: types.ResetCommand{X: x, Y: y}}, nil
	case types.MessageRange:
		dist, err := toFloat(payload["current_distance"])
		if err != nil {
			return types.RawMessage{}, fmt.Errorf("invalid current_distance: %w", err)
		}
		ts, _ := toUint64(payload["time_usec"])
		return types.RawMessage{Type: msgType, Range: types.Range{TimeUsec: ts, CurrentDistance: dist}}, nil
	case types.MessageGyro:
		rate := types.BodyRate{}
		rate.TimeUsec, _ = toUint64(payload["time_usec"])
		rate.X, _ = toFloat(payload["x"])
		rate.Y, _ = toFloat(payload["y"])
		rate.Z, _ = toFloat(payload["z"])
		return types.RawMessage{Type: msgType, Gyro: rate}, nil
	default:
		return types.RawMessage{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func decodeImage(payload map[string]any) (types.Frame, error) {
	camera, _ := payload["camera"].(string)
	if camera == "" {
		return types.Frame{}, errors.New("image without camera")
	}
	imageID, err := toInt(payload["image_id"])
	if err != nil {
		return types.Frame{}, fmt.Errorf("invalid image_id: %w", err)
	}
	startTime, err := toFloat(payload["start_time"])
	if err != nil {
		return types.Frame{}, fmt.Errorf("invalid start_time: %w", err)
	}
	// A missing rate is passed on as zero so the timing fallback applies.
	rate, _ := toFloat(payload["rate"])

	pix, err := decodeMultiDimArray(payload["data"])
	if err != nil {
		return types.Frame{}, fmt.Errorf("invalid data: %w", err)
	}

	format, _ := payload["format"].(string)
	if format == "" {
		format = "L8"
		if pix.Depth == 2 {
			format = "L16"
		}
	}

	return types.Frame{
		Camera:    camera,
		ImageID:   imageID,
		StartTime: startTime,
		Width:     pix.Cols,
		Height:    pix.Rows,
		Depth:     pix.Depth,
		Format:    format,
		Rate:      rate,
		Data:      pix.Pix,
	}, nil
}

// EncodeFrame builds an image message for f. algorithm selects payload
// compression; empty sends raw bytes.
func EncodeFrame(f types.Frame, algorithm string) ([]byte, error) {
	data, err := encodePixels(f.Height, f.Width, f.Data, algorithm)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(map[string]any{
		"type":       types.MessageImage,
		"camera":     f.Camera,
		"image_id":   f.ImageID,
		"start_time": f.StartTime,
		"rate":       f.Rate,
		"format":     f.Format,
		"data":       data,
	})
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, errors.New("negative value")
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, errors.New("negative value")
		}
		return uint64(n), nil
	case float64:
		if n < 0 {
			return 0, errors.New("negative value")
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unsupported uint type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}

// Decode parses one message as Stream would.
func Decode(msg []byte) (types.RawMessage, error) {
	return decodeMessage(msg)
}
