// Command conference-probe connects a signaling channel to a conference
// server and logs every observer callback. It is a diagnostic tool: point it
// at a server with a session token and watch the login, reconnect and event
// flow in real time.
package main

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/conferencekit/conference-go/internal/metrics"
	"github.com/conferencekit/conference-go/signaling"
)

var (
	tokenFlag   string
	insecure    bool
	metricsAddr string
	logLevel    string
	sendText    string
	strictProto bool
)

var rootCmd = &cobra.Command{
	Use:   "conference-probe",
	Short: "connect to a conference signaling server and trace its events",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		log.SetOutput(os.Stderr)

		if tokenFlag == "" {
			return cmd.Usage()
		}

		done := make(chan struct{})
		obs := &traceObserver{done: done}
		ch := signaling.New(tokenFlag, obs)
		if sendText != "" {
			// Sent once the room is up; earlier the message would just sit in
			// the offline queue.
			obs.onConnected = func() {
				ch.Send("text", map[string]string{"to": "all", "message": sendText}, func(args []json.RawMessage) {
					log.WithField("args", len(args)).Info("text acknowledged")
				})
			}
		}

		cfg := signaling.Configuration{StrictProtocol: strictProto}
		if insecure {
			log.Warn("TLS certificate verification disabled")
			cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
		ch.Connect(cfg)

		if metricsAddr != "" {
			go serveMetrics(metricsAddr, ch.Metrics())
		}
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			log.Info("shutting down")
			ch.Disconnect()
			<-done
		case <-done:
		}

		for event, n := range ch.Counters() {
			log.WithFields(log.Fields{"event": event, "count": n}).Debug("counter")
		}
		return nil
	},
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler(m))
	log.WithField("addr", addr).Info("metrics listener started")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics listener failed")
	}
}

// traceObserver logs every callback and closes done on terminal ones.
type traceObserver struct {
	done        chan struct{}
	onConnected func()
}

func (o *traceObserver) OnRoomConnected(info signaling.RoomInfo) {
	log.WithFields(log.Fields{"room": info.ID, "ticket": info.ReconnectionTicket != ""}).Info("room connected")
	if o.onConnected != nil {
		o.onConnected()
	}
}

func (o *traceObserver) OnRoomConnectFailed(reason string) {
	log.WithField("reason", reason).Error("room connect failed")
	close(o.done)
}

func (o *traceObserver) OnReconnecting() {
	log.Warn("connection lost, reconnecting")
}

func (o *traceObserver) OnRoomDisconnected() {
	log.Info("room disconnected")
	close(o.done)
}

func (o *traceObserver) OnProgressMessage(msg json.RawMessage) {
	log.WithField("payload", string(msg)).Info("progress")
}

func (o *traceObserver) OnTextMessage(from, message string) {
	log.WithFields(log.Fields{"from": from, "message": message}).Info("text")
}

func (o *traceObserver) OnStreamAdded(stream signaling.RemoteStream) {
	log.WithField("stream", stream.ID).Info("stream added")
}

func (o *traceObserver) OnStreamRemoved(id string) {
	log.WithField("stream", id).Info("stream removed")
}

func (o *traceObserver) OnStreamUpdated(id string, update json.RawMessage) {
	log.WithFields(log.Fields{"stream": id, "update": string(update)}).Info("stream updated")
}

func (o *traceObserver) OnParticipantJoined(p signaling.Participant) {
	log.WithFields(log.Fields{"participant": p.ID, "role": p.Role}).Info("participant joined")
}

func (o *traceObserver) OnParticipantLeft(id string) {
	log.WithField("participant", id).Info("participant left")
}

func init() {
	rootCmd.Flags().StringVar(&tokenFlag, "token", "", "base64 session token issued by the conference portal")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	rootCmd.Flags().StringVar(&sendText, "send-text", "", "send a text message to the room after connecting")
	rootCmd.Flags().BoolVar(&strictProto, "strict-protocol", false, "panic on server protocol violations")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
