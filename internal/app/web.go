package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/mocap_bridge/internal/command"
	"github.com/relabs-tech/mocap_bridge/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// poseCache keeps the latest pose message per tracker.
type poseCache struct {
	mu    sync.RWMutex
	poses map[int]PoseMessage
}

func newPoseCache() *poseCache {
	return &poseCache{poses: make(map[int]PoseMessage)}
}

func (c *poseCache) store(p PoseMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poses[p.Tracker] = p
}

func (c *poseCache) get(id int) (PoseMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.poses[id]
	return p, ok
}

// handlePose serves /api/pose?tracker=N.
func (c *poseCache) handlePose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("tracker"))
	if err != nil {
		http.Error(w, "tracker query parameter must be an integer", http.StatusBadRequest)
		return
	}
	p, ok := c.get(id)
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// WSResponse acknowledges one command sent over the websocket.
type WSResponse struct {
	Type    string `json:"type"` // ack, error
	Code    int    `json:"code"`
	Tracker int    `json:"tracker"`
	Message string `json:"message,omitempty"`
}

// commandHandler forwards websocket commands to the bridge's command topic.
func commandHandler(publish publishFunc, topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for {
			var cmd command.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("web: websocket read error: %v", err)
				}
				return
			}

			resp := WSResponse{Type: "ack", Code: int(cmd.Code), Tracker: cmd.Tracker}
			payload, err := json.Marshal(cmd)
			if err == nil {
				err = publish(topic, payload)
			}
			if err != nil {
				resp.Type = "error"
				resp.Message = err.Error()
			}
			if err := conn.WriteJSON(resp); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

// RunWeb serves the latest tracker poses over HTTP and relays commands from
// a websocket to the bridge.
func RunWeb() error {
	cfg := config.Get()
	cache := newPoseCache()

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to every pose topic and keep the latest per tracker
	topic := cfg.TopicPosePrefix + "/+"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p PoseMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("web: pose unmarshal error: %v", err)
			return
		}
		cache.store(p)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", topic)

	// 3) Routes
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pose", cache.handlePose)
	mux.HandleFunc("/ws", commandHandler(mqttPublisher(client, false), cfg.TopicCommand))
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
