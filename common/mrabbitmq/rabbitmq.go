package mrabbitmq

import (
	"sync"
	"time"

	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConnection is a hub which deal with rabbitmq connections.
type RabbitMQConnection struct {
	ConnectionStringSource string
	Host                   string
	Port                   string
	User                   string
	Pass                   string
	Exchange               string
	Queue                  string
	Connected              bool
	Logger                 mlog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect keeps a singleton connection with rabbitmq, retrying with exponential backoff.
func (rc *RabbitMQConnection) Connect() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.connectLocked()
}

func (rc *RabbitMQConnection) connectLocked() error {
	rc.Logger.Info("Connecting on rabbitmq...")

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		conn, err := amqp.Dial(rc.ConnectionStringSource)
		if err != nil {
			rc.Logger.Warnf("failed to connect on rabbitmq, retrying: %v", err)

			return err
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()

			rc.Logger.Warnf("failed to open channel on rabbitmq, retrying: %v", err)

			return err
		}

		rc.conn = conn
		rc.channel = ch

		return nil
	}, bo)
	if err != nil {
		rc.Connected = false

		return err
	}

	rc.Logger.Info("Connected on rabbitmq ✅ ")

	rc.Connected = true

	return nil
}

// GetChannel returns the rabbitmq channel, initializing the connection if necessary.
func (rc *RabbitMQConnection) GetChannel() (*amqp.Channel, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.channel == nil || rc.channel.IsClosed() {
		if err := rc.connectLocked(); err != nil {
			return nil, err
		}
	}

	return rc.channel, nil
}

// HealthCheck verifies the underlying connection is still open.
func (rc *RabbitMQConnection) HealthCheck() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.conn == nil || rc.conn.IsClosed() {
		rc.Logger.Error("rabbitmq unhealthy...")

		return false
	}

	return true
}

// Close shuts the channel and connection down.
func (rc *RabbitMQConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.Connected = false

	if rc.channel != nil && !rc.channel.IsClosed() {
		_ = rc.channel.Close()
	}

	if rc.conn != nil && !rc.conn.IsClosed() {
		return rc.conn.Close()
	}

	return nil
}
