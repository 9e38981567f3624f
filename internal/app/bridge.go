// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/command"
	"github.com/relabs-tech/mocap_bridge/internal/config"
	"github.com/relabs-tech/mocap_bridge/internal/layout"
	"github.com/relabs-tech/mocap_bridge/internal/session"
)

// publishFunc sends one payload on a topic.
type publishFunc func(topic string, payload []byte) error

func mqttPublisher(client mqtt.Client, retained bool) publishFunc {
	return func(topic string, payload []byte) error {
		token := client.Publish(topic, 0, retained, payload)
		token.Wait()
		return token.Error()
	}
}

// publishPoses publishes every valid tracker pose on its own topic.
func publishPoses(s *session.Session, topic func(int) string, publish publishFunc) int {
	sent := 0
	for _, msg := range collectPoses(s) {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Printf("bridge: json marshal error: %v", err)
			continue
		}
		if err := publish(topic(msg.Tracker), payload); err != nil {
			log.Printf("bridge: publish error for tracker %d: %v", msg.Tracker, err)
			continue
		}
		sent++
	}
	return sent
}

// handleCommand decodes and runs one command payload. Rejections are logged
// by the processor.
func handleCommand(ctx context.Context, proc *command.Processor, payload []byte) error {
	cmd, err := command.Decode(payload)
	if err != nil {
		log.Printf("bridge: %v", err)
		return err
	}
	return proc.Execute(ctx, cmd)
}

// RunBridge runs the acquisition session described by the layout file and
// bridges it to MQTT: poses out on per-tracker topics, commands in on the
// command topic. It returns after SIGINT or SIGTERM once the session is torn
// down.
func RunBridge() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LayoutFile == "" {
		return fmt.Errorf("LAYOUT_FILE is required by the bridge")
	}
	l, err := layout.Load(cfg.LayoutFile)
	if err != nil {
		return err
	}

	// --- backend and session ---
	b := backend.NewAnimatedSynthetic(cfg.MarkerCount)
	proc, err := newProcessor(cfg, b)
	if err != nil {
		return err
	}
	defer func() {
		if err := proc.Close(); err != nil {
			log.Printf("bridge: teardown error: %v", err)
		}
	}()

	if err := startLayout(ctx, proc, l); err != nil {
		return err
	}
	log.Printf("bridge: session started on %s with trackers %v", cfg.BackendAddress, proc.Session().TrackerIDs())

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDBridge)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("bridge: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicCommand, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handleCommand(ctx, proc, msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("bridge: subscribed to %s", cfg.TopicCommand)

	// --- publish loop ---
	publish := mqttPublisher(client, false)
	ticker := time.NewTicker(time.Duration(cfg.PublishInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("bridge: shutting down")
			return nil
		case <-ticker.C:
			publishPoses(proc.Session(), cfg.PoseTopic, publish)
		}
	}
}
