package queue

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestRetries(t *testing.T) {
	assert.Equal(t, 0, Retries(nil))
	assert.Equal(t, 0, Retries(amqp.Table{HeaderRetries: "2"}))
	assert.Equal(t, 2, Retries(amqp.Table{HeaderRetries: int32(2)}))
	assert.Equal(t, 3, Retries(amqp.Table{HeaderRetries: int64(3)}))
}
