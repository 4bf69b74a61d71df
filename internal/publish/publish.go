package publish

import (
	"strings"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/flow"
	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/types"
)

// TopicName is where a camera's flow records go:
// <namespace>/<camera with "::" scopes as "/">/opticalFlow.
func TopicName(namespace, camera string) string {
	return joinTopic(namespace, scoped(camera), "opticalFlow")
}

// RangeTopic is where range samples of the model owning camera go:
// <namespace>/<root model>/link/<kind>.
func RangeTopic(namespace, camera, kind string) string {
	root := camera
	if i := strings.Index(camera, "::"); i >= 0 {
		root = camera[:i]
	}
	return joinTopic(namespace, root, "link", kind)
}

func scoped(name string) string {
	parts := strings.Split(name, "::")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func joinTopic(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// EncodeRecord is the CBOR wire form of a record: a fixed-order array.
func EncodeRecord(rec types.OpticalFlow) ([]byte, error) {
	return cbor.Marshal(rec)
}

func DecodeRecord(data []byte) (types.OpticalFlow, error) {
	var rec types.OpticalFlow
	err := cbor.Unmarshal(data, &rec)
	return rec, err
}

// ZMQ publishes two-frame messages [topic, cbor payload] on a PUB socket.
// Sends never block; a full queue drops the message.
type ZMQ struct {
	socket    *zmq4.Socket
	namespace string
	log       zerolog.Logger
	every     *logging.EveryN
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

func NewZMQ(endpoint, namespace string, log zerolog.Logger) (*ZMQ, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetSndhwm(1000); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	log.Info().Str("endpoint", endpoint).Msg("publishing records")
	return &ZMQ{
		socket:    socket,
		namespace: namespace,
		log:       log,
		every:     logging.NewEveryN(100),
	}, nil
}

func (z *ZMQ) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	payload, err := EncodeRecord(rec)
	if err != nil {
		z.drop(err)
		return
	}
	z.send(TopicName(z.namespace, meta.Camera), payload)
}

// PublishRange sends a range sample for the model that owns camera.
func (z *ZMQ) PublishRange(camera, kind string, sample types.Range) {
	payload, err := cbor.Marshal(sample)
	if err != nil {
		z.drop(err)
		return
	}
	z.send(RangeTopic(z.namespace, camera, kind), payload)
}

func (z *ZMQ) send(topic string, payload []byte) {
	if _, err := z.socket.SendMessageDontwait(topic, payload); err != nil {
		z.drop(err)
		return
	}
	z.sent.Add(1)
}

func (z *ZMQ) drop(err error) {
	z.dropped.Add(1)
	if z.every.Allow() {
		z.log.Warn().Err(err).Uint64("dropped", z.dropped.Load()).Msg("publish failed")
	}
}

func (z *ZMQ) Stats() (sent, dropped uint64) {
	return z.sent.Load(), z.dropped.Load()
}

func (z *ZMQ) Close() error {
	return z.socket.Close()
}

// Multi fans a record out to several publishers in order.
type Multi []flow.Publisher

func (m Multi) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	for _, p := range m {
		if p != nil {
			p.Publish(meta, rec)
		}
	}
}
