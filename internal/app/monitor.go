/**
 * @description
 * Cron-driven expiry scanner. Orders still awaiting payment past their
 * deadline are moved to expired on a fixed schedule. Multiple service
 * instances can run the scan concurrently: the conditional expiry update in
 * the repository lets exactly one instance win per order.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: The cron scheduler.
 */

package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// TimeoutMonitor schedules the recurring payment-window expiry scan.
type TimeoutMonitor struct {
	cron     *cron.Cron
	service  *Service
	schedule string
	batch    int
}

// NewTimeoutMonitor creates a monitor that runs the scan on the given cron
// schedule, expiring at most batch orders per pass.
func NewTimeoutMonitor(service *Service, schedule string, batch int) *TimeoutMonitor {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &TimeoutMonitor{
		cron:     c,
		service:  service,
		schedule: schedule,
		batch:    batch,
	}
}

// Start registers the scan job and starts the scheduler.
func (m *TimeoutMonitor) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, m.Scan); err != nil {
		return err
	}
	m.cron.Start()
	log.Printf("level=info component=timeout_monitor msg=\"expiry scan scheduled\" schedule=%q batch=%d", m.schedule, m.batch)
	return nil
}

// Scan runs one expiry pass. Exported so it can be invoked directly outside
// the schedule.
func (m *TimeoutMonitor) Scan() {
	expired, err := m.service.ExpireOverdue(context.Background(), m.batch)
	if err != nil {
		log.Printf("level=error component=timeout_monitor msg=\"expiry scan failed\" err=%v", err)
		return
	}
	if expired > 0 {
		log.Printf("level=info component=timeout_monitor msg=\"expired overdue orders\" count=%d", expired)
	}
}

// Stop gracefully stops the scheduler and returns a context that is done when
// running jobs complete.
func (m *TimeoutMonitor) Stop() context.Context {
	return m.cron.Stop()
}
