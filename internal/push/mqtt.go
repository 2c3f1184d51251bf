package push

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSettings configures the MQTT push transport.
type MQTTSettings struct {
	Broker   string
	Port     int
	ClientID string
	User     string
	Password string

	// TopicPrefix is the root under which devices publish, e.g.
	// "<prefix>/<group>/activity".
	TopicPrefix string
}

// MQTTSource subscribes to per-group activity topics on a broker and
// feeds decoded records to the handler. Vendors with broker-based push
// (rather than a stream endpoint) use this transport.
type MQTTSource struct {
	settings MQTTSettings
	handler  Handler
	logger   *zap.Logger
	client   mqtt.Client
}

// NewMQTTSource creates an MQTT push source. Start must be called to
// connect and subscribe.
func NewMQTTSource(settings MQTTSettings, handler Handler, logger *zap.Logger) *MQTTSource {
	s := &MQTTSource{
		settings: settings,
		handler:  handler,
		logger:   logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", settings.Broker, settings.Port))
	opts.SetClientID(settings.ClientID)
	opts.SetUsername(settings.User)
	opts.SetPassword(settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.subscribe(client)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker, retrying until the connection succeeds
// or Stop is called. The OnConnect handler performs the subscription so
// reconnects re-subscribe automatically.
func (s *MQTTSource) Start() {
	go func() {
		for !s.client.IsConnected() {
			tok := s.client.Connect()
			if ok := tok.WaitTimeout(5 * time.Second); !ok {
				s.logger.Warn("Timeout connecting to MQTT broker, retrying")
				continue
			}
			if err := tok.Error(); err != nil {
				s.logger.Error("Failed to connect to MQTT broker", zap.Error(err))
				time.Sleep(5 * time.Second)
			}
		}
	}()
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	s.client.Disconnect(250)
}

func (s *MQTTSource) subscribe(client mqtt.Client) {
	topic := fmt.Sprintf("%s/+/activity", s.settings.TopicPrefix)
	tok := client.Subscribe(topic, 0, s.onMessage)
	tok.Wait()
	if err := tok.Error(); err != nil {
		s.logger.Error("Failed to subscribe to activity topic",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	s.logger.Info("Subscribed to activity topic", zap.String("topic", topic))
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	acts := decodePayload(msg.Payload(), s.logger)
	if len(acts) > 0 {
		s.handler(acts)
	}
}
