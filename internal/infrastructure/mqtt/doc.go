// Package mqtt relays authoritative entity state to an MQTT broker.
//
// When enabled, every hub change applied to the mirror is republished as a
// retained JSON message on greeter/state/{entity_id}, so dashboards and other
// services can follow the room without talking to the hub. The process
// announces itself on greeter/system/status and the broker publishes a Last
// Will there if it disappears.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.EntityState("light.kitchen")
//	err = client.PublishRetained(topic, []byte(`{"state":"on"}`))
package mqtt
