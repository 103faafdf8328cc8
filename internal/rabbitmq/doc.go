// Package rabbitmq holds the AMQP plumbing behind the RabbitMQ event
// publisher: a connection manager that reconnects in the background and a
// publisher that waits for broker confirms.
package rabbitmq
