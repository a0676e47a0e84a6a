package global

// AppConfig 网关进程配置，全部来自环境变量（见 config.go 的 Load）。
type AppConfig struct {
	GatewayNodeId string // 节点的Id
	Port          int    // http 启动端口

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoUri      string
	MongoDatabase string

	NatsServers  []string // 为空则不启用跨节点转发
	KafkaBrokers []string // 为空则不启用消息流水
	KafkaTopic   string

	SnowNodeId int64
}
