package worker

import (
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	// NATSRequestSubject is where external orchestrators publish request
	// envelopes.
	NATSRequestSubject = "csim.worker.requests"
	// NATSResponseSubject is where station responses are relayed back.
	NATSResponseSubject = "csim.worker.responses"
)

// NATSBridge relays worker channel envelopes between the in-process bus and
// a NATS subject pair, so an orchestrator in another process can drive the
// fleet.
type NATSBridge struct {
	conn         *nats.Conn
	subscription *Subscription
	natsSub      *nats.Subscription
}

// NewNATSBridge connects to the NATS server and starts relaying in both
// directions.
func NewNATSBridge(url string, bus *Bus) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("ocpp-charger-simulator"))
	if err != nil {
		return nil, err
	}

	bridge := &NATSBridge{
		conn:         conn,
		subscription: bus.Subscribe(),
	}

	// Outbound: response envelopes published by station endpoints.
	bridge.subscription.OnMessage(func(data []byte) {
		_, response, err := DecodeMessage(data)
		if err != nil || response == nil {
			return
		}
		if err := conn.Publish(NATSResponseSubject, data); err != nil {
			logrus.WithError(err).Error("Failed to relay response envelope to NATS")
		}
	})

	// Inbound: request envelopes from external orchestrators.
	natsSub, err := conn.Subscribe(NATSRequestSubject, func(m *nats.Msg) {
		bridge.subscription.PostMessage(m.Data)
	})
	if err != nil {
		bridge.subscription.Close()
		conn.Close()
		return nil, err
	}
	bridge.natsSub = natsSub

	logrus.WithField("url", url).Info("Worker channel NATS bridge started")
	return bridge, nil
}

// Close stops relaying and closes the NATS connection.
func (b *NATSBridge) Close() {
	if b.natsSub != nil {
		_ = b.natsSub.Unsubscribe()
	}
	b.subscription.Close()
	b.conn.Close()
}
