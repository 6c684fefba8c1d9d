package broker

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"

	"amzym.dev/livetrack/internal/track"
)

// Broker republishes accepted location events on a NATS subject for
// out-of-process consumers (dashboards, monitors). It hangs off the
// gateway as an OnLocation hook; publish failures never reach the event
// path.
type Broker struct {
	nc      *nats.Conn
	subject string
	log     log.Logger
}

type BrokerConfig struct {
	URL     string
	Subject string
}

func NewBroker(config *BrokerConfig) (*Broker, error) {
	br := &Broker{}
	br.log = log.DefaultLogger
	br.log.Context = log.NewContext(nil).Str("module", "broker").Value()
	br.subject = config.Subject
	if br.subject == "" {
		br.subject = "livetrack.locations"
	}
	nc, err := nats.Connect(config.URL, nats.Name("livetrack"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	br.nc = nc
	br.log.Info().Msgf("connected to nats on %s", config.URL)
	return br, nil
}

type locationMessage struct {
	ID string `json:"id"`
	track.LocationEvent
}

func (br *Broker) PublishLocation(sid string, ev track.LocationEvent) {
	err := br.nc.Publish(br.subject, encodeLocation(sid, ev))
	if err != nil {
		br.log.Warn().Err(err).Str("subject", br.subject).Msg("publish failed")
	}
}

func (br *Broker) Close() {
	br.nc.Close()
}

func encodeLocation(sid string, ev track.LocationEvent) []byte {
	b, _ := json.Marshal(locationMessage{ID: sid, LocationEvent: ev})
	return b
}
