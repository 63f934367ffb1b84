package badger

import (
	"strings"

	"github.com/marmos91/agentfs/internal/logger"
)

// badgerLogger routes badger's internal logging into the AgentFS logger.
// Badger is chatty at INFO, so its info lines are demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Errorf("badger: "+strings.TrimSuffix(format, "\n"), args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warnf("badger: "+strings.TrimSuffix(format, "\n"), args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debugf("badger: "+strings.TrimSuffix(format, "\n"), args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debugf("badger: "+strings.TrimSuffix(format, "\n"), args...)
}
