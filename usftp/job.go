package usftp

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzik143/tegenaria-sub000/uerr"
	"github.com/dzik143/tegenaria-sub000/uio"
	"github.com/dzik143/tegenaria-sub000/usync"
)

// JobKind distinguishes the three factory-produced job shapes.
type JobKind int

const (
	JobDownload JobKind = iota
	JobUpload
	JobList
)

func (k JobKind) String() string {
	switch k {
	case JobDownload:
		return "download"
	case JobUpload:
		return "upload"
	case JobList:
		return "list"
	default:
		return "unknown"
	}
}

// JobState is SftpJob's lifecycle: INITIALIZING -> PENDING ->
// {FINISHED, ERROR, STOPPED}, monotonic once PENDING is left.
type JobState int32

const (
	JobInitializing JobState = iota
	JobPending
	JobFinished
	JobError
	JobStopped
)

func (s JobState) String() string {
	switch s {
	case JobInitializing:
		return "INITIALIZING"
	case JobPending:
		return "PENDING"
	case JobFinished:
		return "FINISHED"
	case JobError:
		return "ERROR"
	case JobStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// NotifyCode tags what an SftpJob's notify callback is reporting.
type NotifyCode int

const (
	// StateChanged fires whenever JobState transitions.
	StateChanged NotifyCode = iota
	// TransferStatistics fires periodically during upload/download with a
	// *JobProgress payload.
	TransferStatistics
	// FilesListArrived fires once for a finished list job with a
	// []*File payload.
	FilesListArrived
)

// JobProgress is the TransferStatistics notify payload.
type JobProgress struct {
	Processed   int64
	Total       int64 // -1 if unknown (e.g. upload from an io.Reader with no Len)
	AvgRate     float64 // bytes/sec, processed / seconds-since-start
	PercentDone float64 // -1 if Total unknown
}

const errJobCancelled_ = uerr.Const("sftp job cancelled")

// SftpJob is a long-running, cancellable, ref-counted download/upload/list
// operation backed by exactly one dedicated worker goroutine (grounded on
// usync.WorkGang/Workers with a worker count of 1), which holds its own
// reference for the job's entire lifetime so the job cannot be freed out
// from under it.
//
// Cancellation is cooperative: Cancel sets a flag that the worker observes
// at sector (download/upload) or batch (list) boundaries, never mid-syscall.
type SftpJob struct {
	id     uint64
	client *Client
	kind   JobKind

	localPath  string
	remotePath string

	state   atomic.Int32
	refs    atomic.Int32
	cancel  atomic.Bool

	startedAt time.Time
	processed atomic.Int64
	total     atomic.Int64 // -1 == unknown

	throttle *uio.Throttle

	mu       sync.Mutex
	err      error
	listing  []*File

	notify func(job *SftpJob, code NotifyCode, payload any)
	done   chan struct{}
}

// DownloadFile starts a job copying remotePath from the server to
// localPath, notifying via notify (which may be nil).
func (c *Client) DownloadFile(
	remotePath, localPath string,
	rateLimit int64, // bytes/sec, 0 disables throttling
	notify func(job *SftpJob, code NotifyCode, payload any),
) (job *SftpJob, err error) {
	job = c.newJob(JobDownload, remotePath, localPath, rateLimit, notify)
	job.start(job.runDownload)
	return job, nil
}

// UploadFile starts a job copying localPath up to remotePath on the
// server, notifying via notify (which may be nil).
func (c *Client) UploadFile(
	localPath, remotePath string,
	rateLimit int64,
	notify func(job *SftpJob, code NotifyCode, payload any),
) (job *SftpJob, err error) {
	job = c.newJob(JobUpload, remotePath, localPath, rateLimit, notify)
	job.start(job.runUpload)
	return job, nil
}

// ListFiles starts a job listing remoteDir's entries, notifying via
// notify (which may be nil) with FilesListArrived once finished.
func (c *Client) ListFiles(
	remoteDir string,
	notify func(job *SftpJob, code NotifyCode, payload any),
) (job *SftpJob, err error) {
	job = c.newJob(JobList, remoteDir, "", 0, notify)
	job.start(job.runList)
	return job, nil
}

func (c *Client) newJob(
	kind JobKind, remotePath, localPath string, rateLimit int64,
	notify func(job *SftpJob, code NotifyCode, payload any),
) *SftpJob {
	j := &SftpJob{
		client:     c,
		kind:       kind,
		remotePath: remotePath,
		localPath:  localPath,
		notify:     notify,
		done:       make(chan struct{}),
	}
	j.total.Store(-1)
	j.refs.Store(1) // the caller's reference
	if rateLimit > 0 {
		j.throttle = uio.NewThrottle(rateLimit)
	}

	c.jobsMu.Lock()
	c.nextJobID++
	j.id = c.nextJobID
	c.jobs[j.id] = j
	c.jobsMu.Unlock()

	return j
}

func (j *SftpJob) ID() uint64       { return j.id }
func (j *SftpJob) Kind() JobKind    { return j.kind }
func (j *SftpJob) State() JobState  { return JobState(j.state.Load()) }
func (j *SftpJob) Processed() int64 { return j.processed.Load() }
func (j *SftpJob) Total() int64     { return j.total.Load() }

// Remote is the job's remote path: the source for a download/list job, the
// destination for an upload job.
func (j *SftpJob) Remote() string { return j.remotePath }

// Local is the job's local path. Empty for a JobList job.
func (j *SftpJob) Local() string { return j.localPath }
func (j *SftpJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Listing returns the entries found by a finished JobList job.
func (j *SftpJob) Listing() []*File {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.listing
}

// AddRef takes an extra reference on the job (e.g. for an admin-endpoint
// snapshot outliving the caller that started the job).
func (j *SftpJob) AddRef() { j.refs.Add(1) }

// Release drops a reference; when the count reaches zero the job is
// removed from its Client's job table. The worker itself holds one
// reference for its entire run, so a job is never evicted mid-flight.
func (j *SftpJob) Release() {
	if 0 == j.refs.Add(-1) {
		j.client.jobsMu.Lock()
		delete(j.client.jobs, j.id)
		j.client.jobsMu.Unlock()
	}
}

// Cancel requests cooperative cancellation; the worker observes this at
// its next sector/batch boundary and stops with JobStopped.
func (j *SftpJob) Cancel() { j.cancel.Store(true) }

func (j *SftpJob) cancelled() bool { return j.cancel.Load() }

// Wait blocks until the job reaches a terminal state.
func (j *SftpJob) Wait() {
	<-j.done
}

func (j *SftpJob) setState(s JobState) {
	j.state.Store(int32(s))
	if nil != j.notify {
		j.notify(j, StateChanged, s)
	}
}

// start launches the dedicated worker goroutine. The worker itself holds
// a reference for as long as it runs, per the ref-counting contract.
func (j *SftpJob) start(run func() error) {
	j.AddRef()
	j.startedAt = time.Now()
	j.setState(JobPending)
	go func() {
		defer j.Release()
		defer close(j.done)

		err := run()

		j.mu.Lock()
		j.err = err
		j.mu.Unlock()

		switch {
		case nil == err:
			j.setState(JobFinished)
		case errJobCancelled_ == err:
			j.setState(JobStopped)
		default:
			j.setState(JobError)
		}
	}()
}

// progress reports TRANSFER_STATISTICS and applies any throttle.
func (j *SftpJob) progress(n int) {
	processed := j.processed.Add(int64(n))
	if nil != j.throttle {
		j.throttle.Wait(n)
	}
	if nil != j.client.throttle {
		j.client.throttle.Await(int64(n))
	}
	if nil == j.notify {
		return
	}
	elapsed := time.Since(j.startedAt).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	total := j.total.Load()
	pct := -1.0
	if total > 0 {
		pct = 100 * float64(processed) / float64(total)
	}
	j.notify(j, TransferStatistics, &JobProgress{
		Processed:   processed,
		Total:       total,
		AvgRate:     rate,
		PercentDone: pct,
	})
}

type jobSector_ struct {
	offset int64
	size   int
}

// runDownload drives exactly one worker goroutine (via usync.WorkGang with
// a worker count of 1) over the file's sectors: the feeder hands out the
// next offset/size, the worker reads that sector from the remote file and
// writes it locally, and the response stage updates progress and honours
// Cancel at each sector boundary.
func (j *SftpJob) runDownload() error {
	rf, err := j.client.OpenRead(j.remotePath)
	if err != nil {
		return err
	}
	defer rf.Close()

	attrs, err := rf.Stat()
	if err == nil && nil != attrs {
		j.total.Store(int64(attrs.Size))
	}

	lf, err := os.OpenFile(j.localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer lf.Close()

	sectorSize := j.client.maxPacket
	var offset int64

	gang := usync.WorkGang{
		OnFeed: func() (req any, ok bool) {
			if j.cancelled() {
				return nil, false
			}
			total := j.total.Load()
			if total >= 0 && offset >= total {
				return nil, false
			}
			size := sectorSize
			if total >= 0 && int64(size) > total-offset {
				size = int(total - offset)
			}
			s := jobSector_{offset: offset, size: size}
			offset += int64(size)
			return s, true
		},
		OnRequest: func(req any) (resp any, ok bool) {
			s := req.(jobSector_)
			buf := make([]byte, s.size)
			n, rerr := rf.ReadAt(buf, s.offset)
			if rerr != nil && rerr != io.EOF {
				j.mu.Lock()
				j.err = rerr
				j.mu.Unlock()
				return nil, false
			}
			if n > 0 {
				if _, werr := lf.WriteAt(buf[:n], s.offset); werr != nil {
					j.mu.Lock()
					j.err = werr
					j.mu.Unlock()
					return nil, false
				}
			}
			return n, true
		},
		OnResponse: func(resp any) (ok bool) {
			n := resp.(int)
			j.progress(n)
			return !j.cancelled()
		},
	}
	gang.Work(1)

	j.mu.Lock()
	ferr := j.err
	j.mu.Unlock()
	if ferr != nil {
		return ferr
	}
	if j.cancelled() {
		return errJobCancelled_
	}
	return nil
}

// runUpload mirrors runDownload for the opposite direction.
func (j *SftpJob) runUpload() error {
	lf, err := os.Open(j.localPath)
	if err != nil {
		return err
	}
	defer lf.Close()

	if fi, ferr := lf.Stat(); ferr == nil {
		j.total.Store(fi.Size())
	}

	rf, err := j.client.Create(j.remotePath)
	if err != nil {
		return err
	}
	defer rf.Close()

	sectorSize := j.client.maxPacket
	var offset int64

	gang := usync.WorkGang{
		OnFeed: func() (req any, ok bool) {
			if j.cancelled() {
				return nil, false
			}
			buf := make([]byte, sectorSize)
			n, rerr := lf.ReadAt(buf, offset)
			if n > 0 {
				s := jobSector_{offset: offset, size: n}
				offset += int64(n)
				_ = rerr // EOF (possibly with n>0) is handled on next feed
				return jobUploadReq_{sector: s, data: buf[:n]}, true
			}
			if rerr != nil && rerr != io.EOF {
				j.mu.Lock()
				j.err = rerr
				j.mu.Unlock()
			}
			return nil, false
		},
		OnRequest: func(req any) (resp any, ok bool) {
			r := req.(jobUploadReq_)
			if _, werr := rf.WriteAt(r.data, r.sector.offset); werr != nil {
				j.mu.Lock()
				j.err = werr
				j.mu.Unlock()
				return nil, false
			}
			return len(r.data), true
		},
		OnResponse: func(resp any) (ok bool) {
			n := resp.(int)
			j.progress(n)
			return !j.cancelled()
		},
	}
	gang.Work(1)

	j.mu.Lock()
	ferr := j.err
	j.mu.Unlock()
	if ferr != nil {
		return ferr
	}
	if j.cancelled() {
		return errJobCancelled_
	}
	return nil
}

type jobUploadReq_ struct {
	sector jobSector_
	data   []byte
}

// runList lists remotePath's entries in a single batch (ReadDir already
// pages internally); Cancel is only observed once, at the batch boundary,
// per the spec's "cancellation polled at sector/batch boundaries".
func (j *SftpJob) runList() error {
	if j.cancelled() {
		return errJobCancelled_
	}
	entries, err := j.client.ReadDir(j.remotePath, 0, nil)
	if err != nil {
		return err
	}
	if j.cancelled() {
		return errJobCancelled_
	}
	j.mu.Lock()
	j.listing = entries
	j.mu.Unlock()
	j.total.Store(int64(len(entries)))
	j.processed.Store(int64(len(entries)))
	if nil != j.notify {
		j.notify(j, FilesListArrived, entries)
	}
	return nil
}

// Jobs returns a snapshot of every active job on this Client.
func (c *Client) Jobs() []*SftpJob {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	out := make([]*SftpJob, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j)
	}
	return out
}

// Job looks up one active job by id.
func (c *Client) Job(id uint64) (*SftpJob, bool) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

// SweepJobs removes every terminal job older than retention from the
// Client's job table - the maintenance counterpart to Release, for jobs
// whose original caller never collected the result.
func (c *Client) SweepJobs(retention time.Duration) (swept int) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	cutoff := time.Now().Add(-retention)
	for id, j := range c.jobs {
		switch j.State() {
		case JobFinished, JobError, JobStopped:
			if j.startedAt.Before(cutoff) {
				delete(c.jobs, id)
				swept++
			}
		}
	}
	return
}
