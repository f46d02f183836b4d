package asr

import (
	"log/slog"

	"github.com/sirupsen/logrus"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/database"
)

// Services bundles the six ASR core components (§2) plus the statement
// reporter for dependency injection into cmd/server and cmd/worker.
type Services struct {
	Pricing    asrDomain.PricingService
	Period     asrDomain.PeriodAccountant
	Quota      asrDomain.QuotaLimiter
	Scheduler  asrDomain.Scheduler
	Precheck   asrDomain.PrecheckGate
	Settlement asrDomain.SettlementService
	Statement  *statementService
}

// Repositories is the persistence-layer dependency set the service bundle
// is built from.
type Repositories struct {
	Pricing asrDomain.PricingRepository
	Period  asrDomain.PeriodRepository
	Quota   asrDomain.QuotaRepository
	Ledger  asrDomain.LedgerRepository
	Task    asrDomain.TaskRepository
}

// NewServices wires the ASR core components in dependency order: B depends on
// A; C has no dependency on A or B; D depends on A/B/C plus the registry and
// health checker; E depends on A/B/C/D plus the job publisher; F depends on
// A/B/C/ledger wrapped in a single transaction boundary.
func NewServices(
	repos Repositories,
	transactor asrDomain.Transactor,
	registry asrDomain.ProviderRegistry,
	health asrDomain.HealthChecker,
	videoProbe asrDomain.VideoProbe,
	publisher asrDomain.JobPublisher,
	redisDB *database.RedisDB,
	slogLogger *slog.Logger,
	logrusLogger *logrus.Logger,
) *Services {
	// Every other component reads pricing through the cached pricingService
	// rather than repos.Pricing directly, so the §4.A TTL cache and the §5
	// asr:pricing:invalidate pub/sub actually guard the hot paths that price
	// a task (period accounting, scheduling, pre-check, settlement) instead
	// of only the admin Upsert/ListEnabled routes. PricingService and
	// PricingRepository share the same method set, so pricing satisfies
	// both ports.
	pricing := NewPricingService(repos.Pricing, redisDB, slogLogger)
	period := NewPeriodService(transactor, repos.Period, pricing, slogLogger)
	quota := NewQuotaService(transactor, repos.Quota, slogLogger)
	scheduler := NewSchedulerService(registry, pricing, repos.Period, repos.Quota, health, logrusLogger)
	precheck := NewPrecheckService(repos.Task, pricing, repos.Period, repos.Quota, registry, scheduler, videoProbe, publisher, slogLogger)
	settlement := NewSettlementService(transactor, period, quota, repos.Ledger, pricing, slogLogger)
	statement := NewStatementService(repos.Ledger)

	return &Services{
		Pricing:    pricing,
		Period:     period,
		Quota:      quota,
		Scheduler:  scheduler,
		Precheck:   precheck,
		Settlement: settlement,
		Statement:  statement,
	}
}
