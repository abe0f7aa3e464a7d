// Package mqtt connects the bridge to an MQTT broker.
//
// The broker is the bridge's link to the home-automation host when the
// host runs in mqtt mode: device registration requests and acks,
// configuration deliveries, commands, and status all travel over topics
// built by Topics.
//
// # Topic layout
//
//	{prefix}/host/addnode|removenode|rename   bridge -> host requests
//	{prefix}/host/ack/{address}               host -> bridge creation acks
//	{prefix}/host/config/{delivery}           retained startup deliveries
//	{prefix}/host/nodes                       retained device list, also a startup delivery
//	{prefix}/command/{shade|scene}/{id}/{op}  host -> bridge commands
//	{prefix}/command/bridge/0/{op}            discover or query the whole bridge
//	{prefix}/state/{shade|scene}/{id}         retained status
//	{prefix}/event/scene/{id}                 DON/DOF pulses
//	{prefix}/event/bridge/heartbeat           DON/DOF every long poll
//	{prefix}/bridge/status                    availability and last will
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: "pvbridge"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Reconnection uses paho's exponential backoff bounded by
// mqtt.reconnect.initial_delay and max_delay. TLS 1.2+ is used when
// mqtt.broker.tls is set.
package mqtt
