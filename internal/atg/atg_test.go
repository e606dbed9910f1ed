package atg

import (
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertkur/ocpp-charger-simulator/internal/model"
	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
	"github.com/albertkur/ocpp-charger-simulator/internal/stats"
)

// stubConnector tracks the per-connector transaction state of the stub
// station.
type stubConnector struct {
	available   bool
	started     bool
	transaction int
	idTag       string
}

// stubStation is a scriptable station double for generator testing.
type stubStation struct {
	mu sync.Mutex

	registered bool
	available  bool
	connectors map[int]*stubConnector
	tags       []string
	requireAut bool
	cfg        model.AutomaticTransactionGeneratorConfig

	service ocpp.Requester
}

func newStubStation(cfg model.AutomaticTransactionGeneratorConfig, connectorIDs ...int) *stubStation {
	connectors := make(map[int]*stubConnector)
	for _, id := range connectorIDs {
		connectors[id] = &stubConnector{available: true}
	}
	return &stubStation{
		registered: true,
		available:  true,
		connectors: connectors,
		cfg:        cfg,
	}
}

func (s *stubStation) HashID() string { return "stub-hash" }
func (s *stubStation) Name() string   { return "CS-STUB-1" }

func (s *stubStation) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *stubStation) IsChargingStationAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *stubStation) IsConnectorAvailable(connectorID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[connectorID]
	return ok && connector.available
}

func (s *stubStation) ConnectorIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.connectors))
	for id := range s.connectors {
		ids = append(ids, id)
	}
	return ids
}

func (s *stubStation) HasAuthorizedTags() bool { return len(s.tags) > 0 }

func (s *stubStation) RandomIDTag() string {
	if len(s.tags) == 0 {
		return ""
	}
	return s.tags[0]
}

func (s *stubStation) RequireAuthorize() bool { return s.requireAut }

func (s *stubStation) AutomaticTransactionGeneratorConfig() model.AutomaticTransactionGeneratorConfig {
	return s.cfg
}

func (s *stubStation) RequestService() ocpp.Requester {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

func (s *stubStation) ConnectorTransaction(connectorID int) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[connectorID]
	if !ok {
		return false, 0
	}
	return connector.started, connector.transaction
}

func (s *stubStation) EnergyActiveImportRegister(transactionID int, final bool) int { return 1000 }

func (s *stubStation) TransactionIDTag(transactionID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connector := range s.connectors {
		if connector.transaction == transactionID {
			return connector.idTag
		}
	}
	return ""
}

// stubRequester opens and closes transactions on the stub station and
// counts the OCPP calls it sees.
type stubRequester struct {
	mu sync.Mutex

	station         *stubStation
	authorizeStatus types.AuthorizationStatus
	startStatus     types.AuthorizationStatus

	authorizeCalls int
	startCalls     int
	stopCalls      int
	nextTx         int
}

func newStubRequester(station *stubStation) *stubRequester {
	r := &stubRequester{
		station:         station,
		authorizeStatus: types.AuthorizationStatusAccepted,
		startStatus:     types.AuthorizationStatusAccepted,
	}
	station.mu.Lock()
	station.service = r
	station.mu.Unlock()
	return r
}

func (r *stubRequester) counts() (authorize, start, stop int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorizeCalls, r.startCalls, r.stopCalls
}

func (r *stubRequester) SendBootNotification(request *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	return &core.BootNotificationConfirmation{Status: core.RegistrationStatusAccepted}, nil
}

func (r *stubRequester) SendAuthorize(connectorID int, idTag string) (*core.AuthorizeConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorizeCalls++
	return &core.AuthorizeConfirmation{IdTagInfo: &types.IdTagInfo{Status: r.authorizeStatus}}, nil
}

func (r *stubRequester) SendStartTransaction(connectorID int, idTag string) (*core.StartTransactionConfirmation, error) {
	r.mu.Lock()
	r.startCalls++
	r.nextTx++
	transactionID := r.nextTx
	status := r.startStatus
	r.mu.Unlock()

	if status == types.AuthorizationStatusAccepted {
		r.station.mu.Lock()
		if connector, ok := r.station.connectors[connectorID]; ok {
			connector.started = true
			connector.transaction = transactionID
			connector.idTag = idTag
		}
		r.station.mu.Unlock()
	}
	return &core.StartTransactionConfirmation{
		IdTagInfo:     &types.IdTagInfo{Status: status},
		TransactionId: transactionID,
	}, nil
}

func (r *stubRequester) SendStopTransaction(transactionID, meterStop int, idTag string, reason core.Reason) (*core.StopTransactionConfirmation, error) {
	r.mu.Lock()
	r.stopCalls++
	r.mu.Unlock()

	r.station.mu.Lock()
	for _, connector := range r.station.connectors {
		if connector.transaction == transactionID {
			connector.started = false
			connector.transaction = 0
			connector.idTag = ""
		}
	}
	r.station.mu.Unlock()
	return &core.StopTransactionConfirmation{IdTagInfo: &types.IdTagInfo{Status: types.AuthorizationStatusAccepted}}, nil
}

func (r *stubRequester) SendHeartbeat() (*core.HeartbeatConfirmation, error) {
	return &core.HeartbeatConfirmation{CurrentTime: types.NewDateTime(time.Now())}, nil
}

func (r *stubRequester) SendStatusNotification(connectorID int, errorCode core.ChargePointErrorCode, status core.ChargePointStatus) (*core.StatusNotificationConfirmation, error) {
	return &core.StatusNotificationConfirmation{}, nil
}

func (r *stubRequester) SendMeterValues(connectorID, transactionID int, meterValues []types.MeterValue) (*core.MeterValuesConfirmation, error) {
	return &core.MeterValuesConfirmation{}, nil
}

func (r *stubRequester) SendDataTransfer(vendorID, messageID, data string) (*core.DataTransferConfirmation, error) {
	return &core.DataTransferConfirmation{Status: core.DataTransferStatusAccepted}, nil
}

func (r *stubRequester) SendDiagnosticsStatusNotification(status firmware.DiagnosticsStatus) (*firmware.DiagnosticsStatusNotificationConfirmation, error) {
	return &firmware.DiagnosticsStatusNotificationConfirmation{}, nil
}

func (r *stubRequester) SendFirmwareStatusNotification(status firmware.FirmwareStatus) (*firmware.FirmwareStatusNotificationConfirmation, error) {
	return &firmware.FirmwareStatusNotificationConfirmation{}, nil
}

func fastConfig(probability float64) model.AutomaticTransactionGeneratorConfig {
	return model.AutomaticTransactionGeneratorConfig{
		Enable:                         true,
		StopAfterHours:                 0.0001, // 360ms
		MinDelayBetweenTwoTransactions: 0.005,
		MaxDelayBetweenTwoTransactions: 0.01,
		MinDuration:                    0.01,
		MaxDuration:                    0.02,
		ProbabilityOfStart:             probability,
	}
}

func newControllerFixture(t *testing.T, cfg model.AutomaticTransactionGeneratorConfig, connectorIDs ...int) (*Controller, *stubStation, *stubRequester) {
	t.Helper()
	station := newStubStation(cfg, connectorIDs...)
	requester := newStubRequester(station)
	controller := NewController(station, stats.NewCollector("", time.Minute))
	t.Cleanup(func() { controller.Stop() })
	return controller, station, requester
}

func TestProbabilityZeroOnlySkips(t *testing.T) {
	controller, _, requester := newControllerFixture(t, fastConfig(0), 1)

	controller.Start()

	// The generator must self-stop at its deadline without ever starting
	// a transaction, while the skip counters advance.
	require.Eventually(t, func() bool { return !controller.Started() }, 2*time.Second, 10*time.Millisecond)

	_, start, _ := requester.counts()
	assert.Zero(t, start)
	recent, total := controller.SkippedTransactions(1)
	assert.Positive(t, recent)
	assert.Positive(t, total)
}

func TestProbabilityOneStartsAndStopsTransactions(t *testing.T) {
	controller, station, requester := newControllerFixture(t, fastConfig(1), 1, 2)

	controller.Start()

	require.Eventually(t, func() bool { return !controller.Started() }, 3*time.Second, 10*time.Millisecond)

	_, start, stop := requester.counts()
	assert.Positive(t, start)
	assert.Positive(t, stop)
	// Every started transaction has been closed again.
	require.Eventually(t, func() bool {
		for _, id := range []int{1, 2} {
			if started, _ := station.ConnectorTransaction(id); started {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectedAuthorizeSkipsStartAndCoolsOff(t *testing.T) {
	cfg := fastConfig(1)
	controller, station, requester := newControllerFixture(t, cfg, 1)
	station.tags = []string{"TAG-0001"}
	station.requireAut = true
	requester.authorizeStatus = types.AuthorizationStatusBlocked

	controller.Start()

	require.Eventually(t, func() bool {
		authorize, _, _ := requester.counts()
		return authorize >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The cool-off after the rejection keeps the loop from authorizing again,
	// although the delay between two transactions is only milliseconds.
	time.Sleep(100 * time.Millisecond)
	authorize, start, _ := requester.counts()
	assert.Equal(t, 1, authorize)

	// The rejection path never reaches StartTransaction and does not count
	// as a probability skip.
	assert.Zero(t, start)
	recent, total := controller.SkippedTransactions(1)
	assert.Zero(t, recent)
	assert.Zero(t, total)
}

func TestStartIsGuardedAgainstDoubleStart(t *testing.T) {
	controller, _, _ := newControllerFixture(t, fastConfig(0), 1)

	controller.Start()
	assert.True(t, controller.Started())
	controller.Start()
	assert.True(t, controller.Started())
}

func TestStopIsGuardedWhenNotStarted(t *testing.T) {
	controller, _, _ := newControllerFixture(t, fastConfig(0), 1)
	controller.Stop()
	assert.False(t, controller.Started())
}

func TestStopClearsConnectorFlagsImmediately(t *testing.T) {
	controller, _, _ := newControllerFixture(t, fastConfig(0), 1, 2)

	controller.Start()
	assert.True(t, controller.ConnectorRunning(1))
	assert.True(t, controller.ConnectorRunning(2))

	controller.Stop()
	assert.False(t, controller.ConnectorRunning(1))
	assert.False(t, controller.ConnectorRunning(2))
}

func TestConnectorScopedStartAndStop(t *testing.T) {
	controller, _, _ := newControllerFixture(t, fastConfig(0), 1, 2)

	controller.Start(2)
	assert.False(t, controller.ConnectorRunning(1))
	assert.True(t, controller.ConnectorRunning(2))
	assert.True(t, controller.Started())

	controller.Stop(2)
	assert.False(t, controller.ConnectorRunning(2))
	// A connector-scoped stop keeps the generator itself running.
	assert.True(t, controller.Started())
}

func TestRestartPreservesRunningBudget(t *testing.T) {
	cfg := fastConfig(0)
	cfg.StopAfterHours = 1
	station := newStubStation(cfg, 1)
	newStubRequester(station)
	controller := NewController(station, stats.NewCollector("", time.Minute))

	// Simulate a previous cycle that consumed 15 minutes of budget.
	controller.mu.Lock()
	controller.startDate = time.Now().Add(-20 * time.Minute)
	controller.lastRunDate = controller.startDate.Add(15 * time.Minute)
	controller.mu.Unlock()

	controller.Start()
	defer controller.Stop()

	controller.mu.Lock()
	remaining := controller.stopDate.Sub(controller.startDate)
	controller.mu.Unlock()

	assert.InDelta(t, (45 * time.Minute).Seconds(), remaining.Seconds(), 1)
}

func TestStopAfterZeroHoursStopsImmediately(t *testing.T) {
	cfg := fastConfig(1)
	cfg.StopAfterHours = 0
	controller, _, requester := newControllerFixture(t, cfg, 1)

	controller.Start()

	require.Eventually(t, func() bool { return !controller.Started() }, 2*time.Second, 5*time.Millisecond)
	_, start, _ := requester.counts()
	assert.Zero(t, start)
}

func TestUnregisteredStationStopsLoop(t *testing.T) {
	controller, station, requester := newControllerFixture(t, fastConfig(1), 1)
	station.mu.Lock()
	station.registered = false
	station.mu.Unlock()

	controller.Start()

	time.Sleep(100 * time.Millisecond)
	_, start, _ := requester.counts()
	assert.Zero(t, start)
}

func TestStartTransactionWithoutTags(t *testing.T) {
	controller, _, requester := newControllerFixture(t, fastConfig(1), 1)

	result, err := controller.startTransaction(1)
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.NotZero(t, result.TransactionID())

	authorize, start, _ := requester.counts()
	assert.Zero(t, authorize)
	assert.Equal(t, 1, start)
}

func TestStartTransactionAuthorizesFirst(t *testing.T) {
	controller, station, requester := newControllerFixture(t, fastConfig(1), 1)
	station.tags = []string{"TAG-0001"}
	station.requireAut = true

	result, err := controller.startTransaction(1)
	require.NoError(t, err)
	assert.True(t, result.Accepted())

	authorize, start, _ := requester.counts()
	assert.Equal(t, 1, authorize)
	assert.Equal(t, 1, start)
}

func TestStartTransactionReturnsAuthorizeRejection(t *testing.T) {
	controller, station, requester := newControllerFixture(t, fastConfig(1), 1)
	station.tags = []string{"TAG-0001"}
	station.requireAut = true
	requester.authorizeStatus = types.AuthorizationStatusInvalid

	result, err := controller.startTransaction(1)
	require.NoError(t, err)
	assert.False(t, result.Accepted())
	assert.NotNil(t, result.Authorize)
	assert.Nil(t, result.Start)
	assert.Equal(t, types.AuthorizationStatusInvalid, result.Status())

	_, start, _ := requester.counts()
	assert.Zero(t, start)
}

func TestStopTransactionWithoutActiveTransactionIsNoop(t *testing.T) {
	controller, _, requester := newControllerFixture(t, fastConfig(1), 1)

	result := controller.stopTransaction(1, "")
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Confirmation)

	_, _, stop := requester.counts()
	assert.Zero(t, stop)
}

func TestStopTransactionClosesActiveTransaction(t *testing.T) {
	controller, station, requester := newControllerFixture(t, fastConfig(1), 1)

	_, err := controller.startTransaction(1)
	require.NoError(t, err)

	result := controller.stopTransaction(1, core.ReasonLocal)
	assert.False(t, result.Skipped)
	require.NotNil(t, result.Confirmation)

	_, _, stop := requester.counts()
	assert.Equal(t, 1, stop)

	started, _ := station.ConnectorTransaction(1)
	assert.False(t, started)
}
