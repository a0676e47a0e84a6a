package kafka

import (
	"github.com/Shopify/sarama"

	"RTChat/logger"
)

var AsyncProd sarama.AsyncProducer

func InitAsyncProducerFromClient() error {
	p, err := sarama.NewAsyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	AsyncProd = p

	go func() {
		for {
			select {
			case msg, ok := <-AsyncProd.Successes():
				if !ok {
					return
				}
				logger.Debug("journal sent: topic=" + msg.Topic)
			case err, ok := <-AsyncProd.Errors():
				if !ok {
					return
				}
				logger.Warnf("journal error: %v", err)
			}
		}
	}()
	return nil
}

// JournalMessage 投递后的消息流水；失败只记日志，绝不回压投递路径。
func JournalMessage(chatID string, payload []byte) {
	if AsyncProd == nil {
		return
	}
	AsyncProd.Input() <- &sarama.ProducerMessage{
		Topic: Cfg.JournalTopic,
		Key:   sarama.StringEncoder(chatID), // 同一会话保序
		Value: sarama.ByteEncoder(payload),
	}
}
