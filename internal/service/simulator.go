package service

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/config"
	"github.com/albertkur/ocpp-charger-simulator/internal/station"
	"github.com/albertkur/ocpp-charger-simulator/internal/stats"
	"github.com/albertkur/ocpp-charger-simulator/internal/worker"
)

// Simulator owns the simulated station fleet, the worker broadcast channel
// and the performance statistics collector.
type Simulator struct {
	config    *config.Config
	collector *stats.Collector
	bus       *worker.Bus

	stations  map[string]*station.ChargingStation
	endpoints []*worker.Endpoint

	natsBridge *worker.NATSBridge
}

// NewSimulator expands the station templates and wires every station to the
// worker channel.
func NewSimulator(cfg *config.Config) (*Simulator, error) {
	templates, err := station.LoadTemplates(cfg.StationTemplateFile)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		config:    cfg,
		collector: stats.NewCollector(cfg.StatisticsFile, cfg.StatisticsFlushInterval),
		bus:       worker.NewBus(),
		stations:  make(map[string]*station.ChargingStation),
	}

	for _, template := range templates {
		for _, info := range template.Expand(cfg.SupervisionURL, cfg.HeartbeatInterval, cfg.MeterValueSampleInterval) {
			cs := station.NewChargingStation(info, s.collector)
			s.stations[cs.HashID()] = cs
			s.endpoints = append(s.endpoints, worker.NewEndpoint(s.bus, cs))
			logrus.WithFields(logrus.Fields{
				"station": cs.Name(),
				"hashId":  cs.HashID(),
			}).Info("Charging station created")
		}
	}

	return s, nil
}

// Start brings the whole fleet online.
func (s *Simulator) Start() error {
	s.collector.Start()

	if s.config.NATSURL != "" {
		bridge, err := worker.NewNATSBridge(s.config.NATSURL, s.bus)
		if err != nil {
			return err
		}
		s.natsBridge = bridge
	}

	for _, cs := range s.stations {
		cs := cs
		go func() {
			if err := cs.Start(); err != nil {
				logrus.WithError(err).WithField("station", cs.Name()).Error("Failed to start charging station")
			}
		}()
	}

	logrus.WithField("stations", len(s.stations)).Info("Simulator started")
	return nil
}

// Stop takes the fleet offline and flushes the statistics.
func (s *Simulator) Stop() {
	for _, cs := range s.stations {
		if err := cs.Stop(); err != nil {
			logrus.WithError(err).WithField("station", cs.Name()).Error("Failed to stop charging station")
		}
	}
	for _, endpoint := range s.endpoints {
		endpoint.Close()
	}
	if s.natsBridge != nil {
		s.natsBridge.Close()
	}
	s.collector.Stop()
	logrus.Info("Simulator stopped")
}

// Bus returns the worker broadcast channel.
func (s *Simulator) Bus() *worker.Bus {
	return s.bus
}

// Stations returns the fleet ordered by station name.
func (s *Simulator) Stations() []*station.ChargingStation {
	list := make([]*station.ChargingStation, 0, len(s.stations))
	for _, cs := range s.stations {
		list = append(list, cs)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Station looks a station up by its hash id.
func (s *Simulator) Station(hashID string) (*station.ChargingStation, bool) {
	cs, ok := s.stations[hashID]
	return cs, ok
}

// Statistics returns a snapshot of the performance measurements.
func (s *Simulator) Statistics() map[string]stats.Aggregate {
	return s.collector.Snapshot()
}
