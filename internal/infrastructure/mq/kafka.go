package mq

import (
	"log"

	"custodian/internal/config"

	"github.com/IBM/sarama"
)

// Producer wraps a sarama sync producer for outbox publication.
type Producer struct {
	producer sarama.SyncProducer
}

// InitKafka creates the producer used by the outbox sender.
func InitKafka(cfg *config.KafkaConfig) *Producer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("create kafka producer: %v", err)
	}

	return &Producer{producer: producer}
}

func (p *Producer) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() {
	if p.producer != nil {
		p.producer.Close()
	}
}
