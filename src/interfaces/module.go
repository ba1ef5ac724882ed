package interfaces

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Module is the common lifecycle contract for the long-lived components held
// by the instance (event dispatcher, orchestrator, managers, server).
type Module interface {
	Start(ctx context.Context) error
	Close(ctx context.Context)
}

type Logger struct {
	*logrus.Logger
}
