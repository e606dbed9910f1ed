package atg

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/internal/model"
	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
	"github.com/albertkur/ocpp-charger-simulator/internal/stats"
)

const (
	// DefaultStopAfterHours bounds a generator run when the template does
	// not set stopAfterHours.
	DefaultStopAfterHours = 0.25

	// initializationPollInterval is the only sanctioned busy-wait: polling
	// for the OCPP request service to come up after the websocket opens.
	initializationPollInterval = 1 * time.Second

	// waitAfterRejectedStart is the cool-off after the CSMS rejects a
	// transaction start.
	waitAfterRejectedStart = 5 * time.Second
)

// Station is the charging station surface the generator drives. It is
// satisfied by *station.ChargingStation.
type Station interface {
	HashID() string
	Name() string
	IsRegistered() bool
	IsChargingStationAvailable() bool
	IsConnectorAvailable(connectorID int) bool
	ConnectorIDs() []int
	HasAuthorizedTags() bool
	RandomIDTag() string
	RequireAuthorize() bool
	AutomaticTransactionGeneratorConfig() model.AutomaticTransactionGeneratorConfig
	RequestService() ocpp.Requester
	ConnectorTransaction(connectorID int) (started bool, transactionID int)
	EnergyActiveImportRegister(transactionID int, final bool) int
	TransactionIDTag(transactionID int) string
}

type connectorState struct {
	start               bool
	skippedTransactions int64
	totalSkipped        int64
}

// Controller supervises one per-connector transaction loop for every
// operational connector of a station.
type Controller struct {
	station   Station
	collector *stats.Collector
	log       *logrus.Entry

	mu          sync.Mutex
	started     bool
	startDate   time.Time
	lastRunDate time.Time
	stopDate    time.Time
	connectors  map[int]*connectorState
}

// NewController creates a transaction generator for the station.
func NewController(station Station, collector *stats.Collector) *Controller {
	connectors := make(map[int]*connectorState)
	for _, id := range station.ConnectorIDs() {
		connectors[id] = &connectorState{}
	}
	return &Controller{
		station:   station,
		collector: collector,
		log:       logrus.WithField("station", station.Name()),
		connectors: connectors,
	}
}

// Started reports whether the generator is running.
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// ConnectorRunning reports whether the loop for the given connector is
// flagged to run.
func (c *Controller) ConnectorRunning(connectorID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.connectors[connectorID]
	return ok && state.start
}

// SkippedTransactions returns the recent and total skip counters for the
// connector.
func (c *Controller) SkippedTransactions(connectorID int) (recent, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.connectors[connectorID]
	if !ok {
		return 0, 0
	}
	return state.skippedTransactions, state.totalSkipped
}

// Start launches the per-connector loops. Without arguments every
// operational connector is started; with connector ids only those loops.
// Starting an already started generator without connector ids is a no-op
// with a warning; with connector ids it launches the loops of those
// connectors that are not yet running.
func (c *Controller) Start(connectorIDs ...int) {
	c.mu.Lock()

	if len(connectorIDs) == 0 && c.started {
		c.mu.Unlock()
		c.log.Warn("Automatic transaction generator is already started")
		return
	}

	if !c.started {
		// Restart preserves the remaining running budget: the time already
		// consumed in the previous cycle is deducted from the new deadline.
		var consumed time.Duration
		if !c.lastRunDate.IsZero() && !c.startDate.IsZero() {
			consumed = c.lastRunDate.Sub(c.startDate)
		}
		stopAfter := c.station.AutomaticTransactionGeneratorConfig().StopAfterHours
		c.startDate = time.Now()
		c.stopDate = c.startDate.Add(hoursToDuration(stopAfter) - consumed)
		c.started = true
	}

	targets := connectorIDs
	if len(targets) == 0 {
		targets = c.station.ConnectorIDs()
	}

	var launched []int
	for _, id := range targets {
		state, ok := c.connectors[id]
		if !ok {
			state = &connectorState{}
			c.connectors[id] = state
		}
		if state.start {
			c.log.WithField("connectorId", id).Warn("Transaction loop is already running")
			continue
		}
		state.start = true
		launched = append(launched, id)
	}
	stopDate := c.stopDate
	c.mu.Unlock()

	for _, id := range launched {
		go c.run(id)
	}
	c.log.WithFields(logrus.Fields{
		"connectors": launched,
		"stopDate":   stopDate,
	}).Info("Automatic transaction generator started")
}

// Stop requests the loops to terminate. Without arguments the whole
// generator stops; with connector ids only those loops are flagged. Loops
// observe the flag at their next iteration head; Stop does not wait for
// them.
func (c *Controller) Stop(connectorIDs ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(connectorIDs) > 0 {
		for _, id := range connectorIDs {
			if state, ok := c.connectors[id]; ok {
				state.start = false
			}
		}
		return
	}

	if !c.started {
		c.log.Warn("Automatic transaction generator is already stopped")
		return
	}
	c.started = false
	for _, state := range c.connectors {
		state.start = false
	}
	c.log.Info("Automatic transaction generator stopped")
}

func (c *Controller) connectorEnabled(connectorID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.connectors[connectorID]
	return ok && state.start
}

func (c *Controller) pastStopDate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.stopDate)
}

func (c *Controller) markRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunDate = time.Now()
}

// run is the per-connector transaction loop. Failures are contained here:
// the loop logs, attempts a terminal stop for any open transaction, and
// exits without affecting sibling loops.
func (c *Controller) run(connectorID int) {
	log := c.log.WithField("connectorId", connectorID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Transaction loop failed")
		}
		if started, _ := c.station.ConnectorTransaction(connectorID); started {
			c.stopTransaction(connectorID, "")
		}
		log.Debug("Transaction loop exited")
	}()

	cfg := c.station.AutomaticTransactionGeneratorConfig()

	for c.connectorEnabled(connectorID) {
		if c.pastStopDate() {
			log.Info("Transaction generator deadline reached")
			c.Stop()
			return
		}
		if !c.station.IsRegistered() {
			log.Error("Charging station is not registered on the central system")
			return
		}
		if !c.station.IsChargingStationAvailable() {
			log.Info("Charging station is unavailable, stopping generator")
			c.Stop()
			return
		}
		if !c.station.IsConnectorAvailable(connectorID) {
			log.Info("Connector is unavailable, stopping its loop")
			return
		}
		if c.station.RequestService() == nil {
			log.Debug("Waiting for the OCPP request service to be initialized")
			time.Sleep(initializationPollInterval)
			continue
		}

		time.Sleep(randomDuration(cfg.MinDelayBetweenTwoTransactions, cfg.MaxDelayBetweenTwoTransactions))

		if secureRandFloat() < cfg.ProbabilityOfStart {
			result, err := c.startTransaction(connectorID)
			switch {
			case err != nil:
				log.WithError(err).Error("Failed to start transaction")
			case !result.Accepted():
				log.WithField("status", result.Status()).Warn("Transaction start rejected")
				time.Sleep(waitAfterRejectedStart)
			default:
				c.resetSkipCounter(connectorID)
				duration := randomDuration(cfg.MinDuration, cfg.MaxDuration)
				log.WithFields(logrus.Fields{
					"transactionId": result.TransactionID(),
					"duration":      duration,
				}).Info("Transaction started")
				time.Sleep(duration)
				c.stopTransaction(connectorID, "")
			}
		} else {
			recent, total := c.recordSkip(connectorID)
			log.WithFields(logrus.Fields{
				"skipped":      recent,
				"totalSkipped": total,
			}).Info("Skipped transaction start")
		}

		c.markRun()
	}
}

func (c *Controller) recordSkip(connectorID int) (recent, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.connectors[connectorID]
	if !ok {
		return 0, 0
	}
	state.skippedTransactions++
	state.totalSkipped++
	return state.skippedTransactions, state.totalSkipped
}

func (c *Controller) resetSkipCounter(connectorID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.connectors[connectorID]; ok {
		state.skippedTransactions = 0
	}
}
