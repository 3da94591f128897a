package alarms

import "errors"

var (
	// ErrQueueFull indicates the notification queue dropped a message.
	ErrQueueFull = errors.New("alarms: notification queue full")
	// ErrDispatcherClosed indicates a submit after shutdown.
	ErrDispatcherClosed = errors.New("alarms: dispatcher closed")
)
