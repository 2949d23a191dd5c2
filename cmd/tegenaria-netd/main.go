// Command tegenaria-netd runs the reactor-based TCP listener alongside an
// outbound SFTP client, its admin/observability endpoint, and its
// scheduled maintenance - wired together from a single YAML config file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dzik143/tegenaria-sub000/admin"
	"github.com/dzik143/tegenaria-sub000/maintenance"
	"github.com/dzik143/tegenaria-sub000/uconfig"
	"github.com/dzik143/tegenaria-sub000/uexit"
	"github.com/dzik143/tegenaria-sub000/ulog"
	"github.com/dzik143/tegenaria-sub000/unet"
	"github.com/dzik143/tegenaria-sub000/usched"
	"github.com/dzik143/tegenaria-sub000/usftp"
)

func main() {
	configF := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if 0 == len(*configF) {
		fmt.Fprintln(os.Stderr, "usage: tegenaria-netd -config FILE")
		os.Exit(2)
	}

	chain := uconfig.FromFile(*configF)

	reactor, reactorPort, err := buildReactor(chain)
	if err != nil {
		ulog.Fatalf("reactor config: %s", err)
	}

	client, err := buildSftpClient(chain)
	if err != nil {
		ulog.Fatalf("sftp client config: %s", err)
	}

	adminAddr := "127.0.0.1:9090"
	chain.GetString("admin.listen", &adminAddr)
	if err = chain.Error; err != nil {
		ulog.Fatalf("admin config: %s", err)
	}
	adminSvr, err := admin.New(client, adminAddr, nil)
	if err != nil {
		ulog.Fatalf("admin: %s", err)
	}

	sched := usched.NewScheduler()
	maint := maintenance.New(client, sched, maintenanceConfig(chain))

	if err = reactor.Listen(reactorPort); err != nil {
		ulog.Fatalf("reactor listen on port %d: %s", reactorPort, err)
	}
	go reactor.Run()
	ulog.Printf("tegenaria-netd: reactor listening on port %d", reactorPort)

	adminSvr.Start()
	ulog.Printf("tegenaria-netd: admin endpoint on %s", adminAddr)

	if err = maint.Start(); err != nil {
		ulog.Fatalf("maintenance: %s", err)
	}
	sched.Start()

	uexit.SimpleSignalHandling()

	reactor.Close()
	adminSvr.Stop(5 * time.Second)
	sched.Stop()
}

// buildReactor builds an unet.Reactor from the "reactor" section and
// returns it along with the port it should Listen on.
func buildReactor(chain *uconfig.Chain) (reactor *unet.Reactor, port int, err error) {
	cores := 0
	maxConns := 4096
	readBuffer := 0

	chain.
		GetInt("reactor.cores", &cores).
		GetInt("reactor.maxConns", &maxConns).
		GetByteSize("reactor.readBuffer", &readBuffer).
		GetInt("reactor.port", &port)
	if err = chain.Error; err != nil {
		return
	}

	reactor = unet.NewReactor(cores, maxConns, readBuffer)
	reactor.OnAccept = func(ctx *unet.ReactorContext) {
		ctx.OnClose = func(ctx *unet.ReactorContext, closeErr error) {
			if nil != closeErr {
				ulog.Debugf("tegenaria-netd: conn %d closed: %s", ctx.Fd(), closeErr)
			}
		}
	}
	return
}

// buildSftpClient dials the configured SFTP host over SSH and wraps it in
// a usftp.Client, applying the client-side timing/concurrency knobs from
// the "sftp" section.
func buildSftpClient(chain *uconfig.Chain) (client *usftp.Client, err error) {
	var host, user, keyFile, hostKeyFile string
	maxConcurrent := 64
	useConcurrentWrites := false
	partialReadSec := 10
	partialWriteSec := 10
	var maxAggregateRate int64

	chain.
		GetString("sftp.host", &host).
		GetString("sftp.user", &user).
		GetPath("sftp.keyFile", &keyFile).
		GetString("sftp.hostKeyFile", &hostKeyFile).
		GetInt("sftp.maxConcurrentRequests", &maxConcurrent).
		GetBool("sftp.useConcurrentWrites", &useConcurrentWrites).
		GetInt("sftp.partialReadThresholdSec", &partialReadSec).
		GetInt("sftp.partialWriteThresholdSec", &partialWriteSec).
		GetByteSize("sftp.maxAggregateRate", &maxAggregateRate)
	if err = chain.Error; err != nil {
		return
	}

	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return
	}

	hostKeyCB, err := hostKeyCallback(hostKeyFile)
	if err != nil {
		return
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCB,
		Timeout:         10 * time.Second,
	}
	sshClient, err := ssh.Dial("tcp", host, sshConf)
	if err != nil {
		return
	}

	client, err = usftp.NewClient(sshClient,
		usftp.MaxConcurrentRequestsPerFile(maxConcurrent),
		usftp.UseConcurrentWrites(useConcurrentWrites),
		usftp.PartialReadThreshold(time.Duration(partialReadSec)*time.Second),
		usftp.PartialWriteThreshold(time.Duration(partialWriteSec)*time.Second),
		usftp.MaxAggregateRate(maxAggregateRate),
	)
	if err != nil {
		sshClient.Close()
		return
	}
	return
}

// hostKeyCallback pins the SFTP server's host key from hostKeyFile
// (authorized_keys format) if configured; otherwise it falls back to
// accepting any host key, logging a warning so that's never silent.
func hostKeyCallback(hostKeyFile string) (ssh.HostKeyCallback, error) {
	if 0 == len(hostKeyFile) {
		ulog.Warnf("tegenaria-netd: sftp.hostKeyFile not set, host key will not be verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	raw, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return nil, err
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return nil, err
	}
	return ssh.FixedHostKey(pub), nil
}

func maintenanceConfig(chain *uconfig.Chain) maintenance.Config {
	cfg := maintenance.DefaultConfig()
	var retentionSec int
	retentionSec = int(cfg.JobRetention / time.Second)

	chain.
		GetString("maintenance.statsResetCron", &cfg.StatsResetCron).
		GetString("maintenance.jobSweepCron", &cfg.JobSweepCron).
		GetInt("maintenance.jobRetentionSec", &retentionSec)
	if nil == chain.Error {
		cfg.JobRetention = time.Duration(retentionSec) * time.Second
	}
	return cfg
}
