package kafka

import (
	"github.com/Shopify/sarama"
)

// Config 网关只用到生产者：消息流水写入 JournalTopic。
type Config struct {
	Brokers             []string
	JournalTopic        string
	KafkaVersion        sarama.KafkaVersion
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
}

var Cfg = Config{
	JournalTopic:    "rtchat-message-events",
	KafkaVersion:    sarama.V2_8_0_0,
	ProducerRetries: 3,
}
