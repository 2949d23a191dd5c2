// Package maintenance wires a usftp.Client's periodic upkeep - stats
// snapshot-then-reset and stale job sweeping - onto usched.Scheduler.
package maintenance

import (
	"time"

	"github.com/dzik143/tegenaria-sub000/ulog"
	"github.com/dzik143/tegenaria-sub000/usched"
	"github.com/dzik143/tegenaria-sub000/usftp"
)

// Config controls how often maintenance runs and how long a finished job
// stays visible in the Client's job table before being swept. The cron
// fields accept anything usched.Scheduler.AddFunc does - a raw 5- or
// 6-field cron expression, or one of its "@hourly"-style symbolics.
type Config struct {
	StatsResetCron string
	JobSweepCron   string
	JobRetention   time.Duration
}

// DefaultConfig matches the daemon's documented YAML defaults: a stats
// rollover every five minutes, a job sweep every minute.
func DefaultConfig() Config {
	return Config{
		StatsResetCron: "0 */5 * * * *",
		JobSweepCron:   "0 * * * * *",
		JobRetention:   5 * time.Minute,
	}
}

// Maintainer periodically snapshots and resets a Client's NetStatistics
// and sweeps its terminal SftpJob table, via usched.Scheduler.
type Maintainer struct {
	client    *usftp.Client
	cfg       Config
	scheduler *usched.Scheduler

	// onStatsReset, if set, is called with the NetStatistics snapshot taken
	// immediately before it is reset - the last chance to persist it.
	onStatsReset func(snapshot statsSnapshot_)
}

type statsSnapshot_ struct {
	BytesSent, BytesRecv           int64
	BytesUploaded, BytesDownloaded int64
	Packets, Requests              int64
	Quality                        float64
	ResetAt                        time.Time
}

// New builds a Maintainer for client. scheduler may be shared with other
// periodic work; it is not started here.
func New(client *usftp.Client, scheduler *usched.Scheduler, cfg Config) *Maintainer {
	return &Maintainer{client: client, cfg: cfg, scheduler: scheduler}
}

// OnStatsReset installs a callback invoked with each stats snapshot right
// before it is cleared - use this to persist rolled-over statistics.
func (m *Maintainer) OnStatsReset(f func(snapshot statsSnapshot_)) {
	m.onStatsReset = f
}

// Start registers the maintenance jobs with the Scheduler. The Scheduler
// itself must still be Start()ed by the caller.
func (m *Maintainer) Start() error {
	if err := m.scheduler.AddFunc("sftp-stats-reset", m.cfg.StatsResetCron, m.resetStats); err != nil {
		return err
	}
	return m.scheduler.AddFunc("sftp-job-sweep", m.cfg.JobSweepCron, m.sweepJobs)
}

func (m *Maintainer) resetStats() {
	s := m.client.Stats
	if nil != m.onStatsReset {
		m.onStatsReset(statsSnapshot_{
			BytesSent:       s.BytesSent(),
			BytesRecv:       s.BytesRecv(),
			BytesUploaded:   s.BytesUploaded(),
			BytesDownloaded: s.BytesDownloaded(),
			Packets:         s.Packets(),
			Requests:        s.Requests(),
			Quality:         s.Quality(),
			ResetAt:         s.ResetAt(),
		})
	}
	s.Reset()
	ulog.Printf("maintenance: sftp NetStatistics reset")
}

func (m *Maintainer) sweepJobs() {
	swept := m.client.SweepJobs(m.cfg.JobRetention)
	if swept > 0 {
		ulog.Printf("maintenance: swept %d terminal sftp job(s)", swept)
	}
}
