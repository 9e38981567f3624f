package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/mocap_bridge/internal/config"
)

// DisplayData holds the latest pose for display
type DisplayData struct {
	mu sync.RWMutex

	pose     PoseMessage
	havePose bool
	received time.Time
}

func (d *DisplayData) store(p PoseMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pose = p
	d.havePose = true
	d.received = time.Now()
}

func (d *DisplayData) snapshot() (PoseMessage, bool, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pose, d.havePose, d.received
}

// addrBus sends every transaction to addr. ssd1306.NewI2C always targets
// 0x3C.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// staleAfter marks a pose as stale on the display.
const staleAfter = 2 * time.Second

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(cfg.DisplayTracker), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	topic := cfg.PoseTopic(cfg.DisplayTracker)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p PoseMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("display: pose unmarshal error: %v", err)
			return
		}
		data.store(p)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", topic)

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for now := range ticker.C {
		pose, have, received := data.snapshot()
		img := renderPose(cfg.DisplayTracker, pose, have, have && now.Sub(received) > staleAfter)
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, y int, s string) {
	d.Dot = fixed.P(0, y)
	d.DrawString(s)
}

func renderPose(trackerID int, p PoseMessage, haveData, stale bool) *image1bit.VerticalLSB {
	img, d := newFrame()

	if !haveData {
		drawLine(d, 26, fmt.Sprintf("Tracker %d", trackerID))
		drawLine(d, 39, "Waiting...")
		return img
	}

	header := fmt.Sprintf("T%d %.1fs", trackerID, p.Time)
	if stale {
		header += " STALE"
	}
	drawLine(d, 11, header)
	drawLine(d, 24, fmt.Sprintf("X:%7.3f", p.X))
	drawLine(d, 37, fmt.Sprintf("Y:%7.3f Z:%6.2f", p.Y, p.Z))
	drawLine(d, 50, fmt.Sprintf("q:%5.2f %5.2f", p.QX, p.QY))
	drawLine(d, 63, fmt.Sprintf("  %5.2f %5.2f", p.QZ, p.QW))
	return img
}

func renderSplash(trackerID int) *image1bit.VerticalLSB {
	img, d := newFrame()
	d.Dot = fixed.P(10, 26)
	d.DrawString("Mocap Bridge")
	d.Dot = fixed.P(10, 43)
	d.DrawString(fmt.Sprintf("tracker %d", trackerID))
	return img
}
