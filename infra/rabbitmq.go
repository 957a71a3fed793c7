package infra

import (
	"fmt"
	"log"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
)

type RabbitMQClient struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

func InitRabbitMQClient(cfg *config.EnvConfig) *RabbitMQClient {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		url.QueryEscape(cfg.RabbitMQ.Username),
		url.QueryEscape(cfg.RabbitMQ.Password),
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
	)

	conn, err := amqp.Dial(dsn)
	if err != nil {
		log.Fatalf("RabbitMQ connection failed: %v", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		log.Fatalf("RabbitMQ channel failed: %v", err)
	}

	log.Println("Connected to RabbitMQ:", cfg.RabbitMQ.Port+" on "+cfg.RabbitMQ.Host)

	return &RabbitMQClient{
		Connection: conn,
		Channel:    channel,
	}
}

// NewChannel opens a dedicated channel for a consumer or a confirming publisher.
func (r *RabbitMQClient) NewChannel() (*amqp.Channel, error) {
	return r.Connection.Channel()
}

func (r *RabbitMQClient) Close() error {
	if r.Channel != nil {
		_ = r.Channel.Close()
	}
	return r.Connection.Close()
}
