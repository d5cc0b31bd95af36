// Package influxdb records entity state history in InfluxDB v2.
//
// When enabled, every hub change applied to the mirror becomes one
// "entity_state" point tagged with entity_id and domain, so state can be
// charted over time without querying the hub.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor.temp", "sensor", "21.5", attrs, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval). Write
// failures are delivered to the SetOnError callback.
package influxdb
