package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

// MQTTChannel publishes alarm JSON to a configurable topic, auto-reconnecting
// when the broker address changes or the connection drops.
type MQTTChannel struct {
	log *obslog.Logger

	mu      sync.Mutex
	clients map[string]mqtt.Client // keyed by broker address
	wg      sync.WaitGroup
}

// NewMQTTChannel returns a channel with a lazily-connected client pool.
func NewMQTTChannel() *MQTTChannel {
	return &MQTTChannel{log: obslog.New("alarm"), clients: make(map[string]mqtt.Client)}
}

func (c *MQTTChannel) Method() model.AlarmMethod { return model.AlarmMethodMQTT }

func (c *MQTTChannel) Send(ctx context.Context, cfg model.AlarmConfig, payload model.AlarmPayload) error {
	broker := cfg.MethodSpecificConfig["broker"]
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	topic := cfg.MethodSpecificConfig["topic"]
	if topic == "" {
		topic = "aibox/alarms"
	}
	qos := byte(0)
	if q, err := strconv.Atoi(cfg.MethodSpecificConfig["qos"]); err == nil {
		qos = byte(q)
	}
	retain := cfg.MethodSpecificConfig["retain"] == "true"

	client, err := c.clientFor(broker)
	if err != nil {
		return err
	}

	body, err := json.Marshal(ToWire(payload))
	if err != nil {
		return err
	}

	token := client.Publish(topic, qos, retain, body)
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clientFor returns a connected client for broker, (re)connecting if the
// cached one dropped or none exists yet.
func (c *MQTTChannel) clientFor(broker string) (mqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[broker]; ok && client.IsConnected() {
		return client, nil
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetAutoReconnect(true).SetClientID(fmt.Sprintf("aibox-alarm-%s", sanitizeBroker(broker)))
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.clients[broker] = client
	return client, nil
}

// Close disconnects every broker connection, unblocking any in-flight
// Publish token waits, then waits for their bridging goroutines to exit.
func (c *MQTTChannel) Close() {
	c.mu.Lock()
	clients := make([]mqtt.Client, 0, len(c.clients))
	for _, cl := range c.clients {
		clients = append(clients, cl)
	}
	c.clients = make(map[string]mqtt.Client)
	c.mu.Unlock()

	for _, cl := range clients {
		cl.Disconnect(250)
	}
	c.wg.Wait()
}

func sanitizeBroker(broker string) string {
	out := make([]byte, 0, len(broker))
	for i := 0; i < len(broker); i++ {
		b := broker[i]
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') {
			out = append(out, b)
		}
	}
	return string(out)
}
