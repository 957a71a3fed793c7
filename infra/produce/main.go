package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	DispatchService *DispatchService
}

func InitProduce(channel *amqp.Channel, dispatchQueue string) *Produce {
	dispatchService := InitDispatchService(channel, dispatchQueue)
	if dispatchService == nil {
		panic("Failed to initialize Dispatch service")
	}

	return &Produce{
		DispatchService: dispatchService,
	}
}
