package daemon

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/hashlock"
)

// Alerter receives conditions that need a human or an external pager. The
// relay's alerter interface is a subset of this one.
type Alerter interface {
	SecretMismatch(orderHash string, lock hashlock.Hash)
	RelayAtRisk(orderHash, escrowID string, remaining time.Duration)
	StuckEscrow(orderHash, escrowID string, err error)
}

// LogAlerter is the default Alerter: structured error logs, no external
// delivery.
type LogAlerter struct{}

func (LogAlerter) SecretMismatch(orderHash string, lock hashlock.Hash) {
	log.WithField("id", orderHash).
		Errorf("ALERT: observed secret does not match hashlock %s", lock)
}

func (LogAlerter) RelayAtRisk(orderHash, escrowID string, remaining time.Duration) {
	log.WithField("id", orderHash).
		Errorf("ALERT: secret relay for escrow %s failing with %s left in withdrawal window", escrowID, remaining)
}

func (LogAlerter) StuckEscrow(orderHash, escrowID string, err error) {
	log.WithField("id", orderHash).
		Errorf("ALERT: escrow %s is stuck: %v", escrowID, err)
}
