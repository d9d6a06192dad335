// Package mqtt provides MQTT client connectivity for the FS20 gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the northbound bus of the gateway. The FS20 bridge publishes
// state, ack and health messages and receives commands through it:
//
//	Home automation ↔ MQTT Broker ↔ FS20 Bridge ↔ CUL stick
//
// The bridge's health topic is registered as the will so that a crashed
// gateway shows up as offline without any extra heartbeat logic.
//
// # Usage
//
//	lwt, _ := json.Marshal(fs20.NewLWTMessage(cfg.Gateway.ID))
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:   fs20.HealthTopic(),
//	    Payload: lwt,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(fs20.CommandSubscribeTopic(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
