// Singleton so that it's easier to use in other packages
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/relistan/go-director"
	"github.com/sirupsen/logrus"
)

const (
	FramesSent          = "fleetlink_frames_sent_total"
	FramesReceived      = "fleetlink_frames_received_total"
	HeartbeatsSent      = "fleetlink_heartbeats_sent_total"
	HeartbeatsReceived  = "fleetlink_heartbeats_received_total"
	EventsDispatched    = "fleetlink_events_dispatched_total"
	AcksSent            = "fleetlink_acks_sent_total"
	ParseErrors         = "fleetlink_parse_errors_total"
	UnknownDestinations = "fleetlink_unknown_destinations_total"
	TransportErrors     = "fleetlink_transport_errors_total"
)

var (
	ReportInterval = 10 * time.Second

	mutex    = &sync.Mutex{}
	counters = make(map[string]prometheus.Counter)
	totals   = make(map[string]float64)
	reported = make(map[string]float64)

	looper director.Looper
)

// Start launches the periodic stats reporter. Counters are registered with
// the default prometheus registry regardless; Start only adds log output.
func Start(reportInterval time.Duration) {
	ReportInterval = reportInterval
	looper = director.NewTimedLooper(director.FOREVER, ReportInterval, make(chan error, 1))

	logrus.Debug("Launching stats reporter")

	go func() {
		looper.Loop(func() error {
			mutex.Lock()
			defer mutex.Unlock()

			for counterName, total := range totals {
				delta := total - reported[counterName]
				reported[counterName] = total

				if delta == 0 {
					continue
				}

				logrus.Debugf("STATS [%s]: %.0f / %s", counterName, delta, ReportInterval)
			}

			return nil
		})
	}()
}

func Stop() {
	if looper != nil {
		looper.Quit()
	}
}

func Incr(name string, value float64) {
	mutex.Lock()
	defer mutex.Unlock()

	c, ok := counters[name]
	if !ok {
		c = promauto.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: "fleetlink session counter",
		})
		counters[name] = c
	}

	c.Add(value)
	totals[name] += value
}

// Value returns the running total for a counter.
func Value(name string) float64 {
	mutex.Lock()
	defer mutex.Unlock()

	return totals[name]
}
