// Package mqtt carries dataset refresh announcements between the API and
// the dashboard.
package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DatasetUpdatedTopic is published by the API after every refresh.
func DatasetUpdatedTopic(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/dataset/updated"
}

type Client struct {
	client paho.Client
}

// BrokerAddress maps mqtt:// and mqtts:// URLs to the tcp:// and ssl://
// schemes paho understands.
func BrokerAddress(brokerURL string) string {
	url := strings.TrimSpace(brokerURL)
	switch {
	case strings.HasPrefix(url, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(url, "mqtt://")
	case strings.HasPrefix(url, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(url, "mqtts://")
	case !strings.Contains(url, "://"):
		return "tcp://" + url
	}
	return url
}

func Connect(brokerURL, clientID string) (*Client, error) {
	if strings.TrimSpace(brokerURL) == "" {
		return nil, fmt.Errorf("mqtt: broker url is empty")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(BrokerAddress(brokerURL))
	if strings.TrimSpace(clientID) == "" {
		clientID = "corona-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(_ paho.Client) {
		slog.Info("mqtt connected", "broker", brokerURL)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", brokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

// Publish sends payload with QoS 1 and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	tok := c.client.Publish(topic, 1, retained, payload)
	if ok := tok.WaitTimeout(10 * time.Second); !ok {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	return tok.Error()
}

func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	tok := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
