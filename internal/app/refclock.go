package app

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mocap_bridge/internal/command"
	"github.com/relabs-tech/mocap_bridge/internal/config"
	"github.com/relabs-tech/mocap_bridge/internal/refclock"
)

// syncCommand builds the clock sync command for a reference fix.
func syncCommand(ref refclock.Reference, now time.Time) command.Command {
	return command.Command{Code: command.CodeSyncClock, Args: []float64{ref.Seconds(now)}}
}

// RunRefClock reads time fixes from the GNSS receiver on the configured
// serial port and publishes a clock sync command for each one.
func RunRefClock() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDClock)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("refclock: connected to MQTT broker at %s", cfg.MQTTBroker)

	// ---- 2) Open receiver serial port ----
	port, err := refclock.Open(cfg.ClockSerialPort, cfg.ClockBaudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	publish := mqttPublisher(client, false)
	err = refclock.Run(ctx, port, func(ref refclock.Reference) {
		payload, err := json.Marshal(syncCommand(ref, time.Now()))
		if err != nil {
			log.Printf("refclock: json marshal error: %v", err)
			return
		}
		if err := publish(cfg.TopicCommand, payload); err != nil {
			log.Printf("refclock: publish error: %v", err)
			return
		}
		log.Printf("refclock: published %s fix %s", ref.Source, ref.Time.Format(time.RFC3339Nano))
	})
	if ctx.Err() != nil {
		log.Println("refclock: shutting down")
		return nil
	}
	return err
}
