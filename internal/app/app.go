package app

import (
	"context"
	"sync"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/internal/ingest"
	"github.com/mreyes/tradereflect/internal/review"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/config"
	"github.com/mreyes/tradereflect/pkg/healthprobe"
	"github.com/mreyes/tradereflect/pkg/httpserver"
	"github.com/mreyes/tradereflect/pkg/notify"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	store         storage.Store
	poller        *ingest.Poller
	scheduler     *review.Scheduler
	hub           *notify.Hub
	publisher     events.Publisher
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}
