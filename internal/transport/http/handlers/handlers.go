package handlers

import (
	"github.com/sirupsen/logrus"

	asrHandler "brokle/internal/transport/http/handlers/asr"
	"brokle/internal/transport/http/handlers/health"
)

// Handlers bundles every HTTP handler the server mounts.
type Handlers struct {
	Health *health.Handler
	ASR    *asrHandler.Handler
}

// NewHandlers wires the handler bundle.
func NewHandlers(
	health *health.Handler,
	asr *asrHandler.Handler,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		Health: health,
		ASR:    asr,
	}
}
