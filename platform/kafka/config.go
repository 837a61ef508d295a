package kafka

// Config содержит конфигурацию для подключения к Kafka
type Config struct {
	// Brokers — список брокеров Kafka.
	// Значение зависит от среды выполнения:
	//   - локальная разработка (go run): localhost:19092
	//   - запуск в Docker: kafka:9092
	// Можно указать несколько брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// OrderEventsTopic — топик, в который outbox dispatcher публикует
	// события заказов (order.paid, order.payment_failed).
	OrderEventsTopic string `env:"KAFKA_ORDER_EVENTS_TOPIC" envDefault:"gallery.order.events"`
	// FulfillmentTopic — топик событий службы доставки (fulfillment.completed),
	// которые переводят оплаченный заказ в fulfilled.
	FulfillmentTopic string `env:"KAFKA_FULFILLMENT_TOPIC" envDefault:"gallery.fulfillment.events"`
	// FulfillmentGroupID — consumer group для fulfillment consumer-а.
	FulfillmentGroupID string `env:"KAFKA_FULFILLMENT_GROUP_ID" envDefault:"gallery-fulfillment"`
	// DLQTopic — dead letter queue для сообщений, которые не удалось обработать.
	DLQTopic string `env:"KAFKA_DLQ_TOPIC" envDefault:"gallery.dlq"`
}

// DefaultConfig возвращает конфигурацию с дефолтными значениями для локальной разработки.
// Сервис должен получать актуальные значения через переменные окружения (KAFKA_BROKERS и т.д.).
func DefaultConfig() Config {
	return Config{
		Brokers:            []string{"localhost:19092"},
		OrderEventsTopic:   "gallery.order.events",
		FulfillmentTopic:   "gallery.fulfillment.events",
		FulfillmentGroupID: "gallery-fulfillment",
		DLQTopic:           "gallery.dlq",
	}
}
