// Package mqtt provides the broker connection used as the automation
// backend transport.
//
// It manages the paho client with auto-reconnect, QoS-checked publishing,
// subscriptions that survive reconnects and a Last Will that marks the
// bridge offline when it vanishes without a clean shutdown.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:   topics.Health(serviceID),
//	    Payload: offline,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topic, 1, func(topic string, payload []byte) error {
//	    return handle(payload)
//	})
//
// Broker-dependent tests carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
