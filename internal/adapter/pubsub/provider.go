package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-mailbox-service/config"
)

const exchangeKindTopic = "topic"

// Provider builds AMQP publishers and subscribers bound to the configured
// topic exchange. Watermill topics are used verbatim as routing keys.
type Provider struct {
	cfg    config.BusConfig
	logger watermill.LoggerAdapter
}

func NewProvider(src config.Source, logger watermill.LoggerAdapter) *Provider {
	return &Provider{cfg: src.Current().Bus, logger: logger}
}

// Subscriber consumes from queue. The queue is removed by the broker once
// the last consumer disconnects, since it only feeds this node's mailboxes.
func (p *Provider) Subscriber(queue string) (message.Subscriber, error) {
	c := amqp.NewDurablePubSubConfig(p.cfg.URL, amqp.GenerateQueueNameConstant(queue))
	p.bindTopicExchange(&c)
	c.Queue.AutoDelete = true

	sub, err := amqp.NewSubscriber(c, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: subscriber %s: %w", queue, err)
	}
	return sub, nil
}

func (p *Provider) Publisher() (message.Publisher, error) {
	c := amqp.NewDurablePubSubConfig(p.cfg.URL, nil)
	p.bindTopicExchange(&c)

	pub, err := amqp.NewPublisher(c, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: publisher %s: %w", p.cfg.Exchange, err)
	}
	return pub, nil
}

func (p *Provider) bindTopicExchange(c *amqp.Config) {
	exchange := p.cfg.Exchange
	c.Exchange.GenerateName = func(string) string { return exchange }
	c.Exchange.Type = exchangeKindTopic
	c.Exchange.Durable = true
	c.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	c.Publish.GenerateRoutingKey = func(topic string) string { return topic }
}
