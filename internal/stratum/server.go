// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/pow"
	"github.com/kadena-community/chainweb-mining-client-go/internal/solver"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

var log = btclog.Disabled

// UseLogger installs the package-wide logger.
func UseLogger(logger btclog.Logger) { log = logger }

// Config tunes the pool server's listener, nonce split, job cache, and
// difficulty policy.
type Config struct {
	ListenAddr string

	// N1Size is the width in bytes (0..8) of the pool-assigned nonce prefix
	// handed out at subscribe time; the remainder is the miner's extranonce2.
	N1Size uint8

	JobCacheSize int
	JobTTL       time.Duration

	Difficulty DifficultyConfig

	// IdleTimeout disconnects a session that sends nothing for this long.
	IdleTimeout time.Duration

	// outboundBuffer bounds the number of queued notifications per session
	// before the session is dropped as unresponsive.
	outboundBuffer int
}

// DefaultConfig returns workable defaults: block-difficulty mode, a 256-job
// cache with a five-minute TTL, and a two-minute idle timeout.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":1917",
		N1Size:         4,
		JobCacheSize:   256,
		JobTTL:         5 * time.Minute,
		Difficulty:     DifficultyConfig{Mode: ModeBlock},
		IdleTimeout:    2 * time.Minute,
		outboundBuffer: 32,
	}
}

// Server is a Stratum-style JSON-RPC pool front-end. It implements
// solver.Solver: each Mine call publishes one round of work to every
// authorized session and blocks until a session submits a share that meets
// the upstream target, letting it stand in for a hardware solver in an
// Orchestrator.
type Server struct {
	cfg  Config
	jobs *JobManager
	salt string

	listener net.Listener

	mu         sync.Mutex
	sessions   map[uint64]*conn
	nextConnID uint64
	cancel     context.CancelFunc
	solvedCh   chan work.Work

	counter *stats.Counters
}

// conn is one accepted TCP connection and its session state.
type conn struct {
	id        uint64
	netConn   net.Conn
	outbound  chan Message
	session   *Session
	closeOnce sync.Once
	done      chan struct{}
}

// NewServer constructs a pool server. Call Run to start accepting
// connections and Mine (satisfying solver.Solver) to drive mining rounds.
func NewServer(cfg Config) *Server {
	if cfg.N1Size == 0 {
		cfg.N1Size = DefaultConfig().N1Size
	}
	if cfg.outboundBuffer == 0 {
		cfg.outboundBuffer = DefaultConfig().outboundBuffer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Server{
		cfg:      cfg,
		jobs:     NewJobManager(cfg.JobCacheSize, cfg.JobTTL),
		salt:     randomSalt(),
		sessions: make(map[uint64]*conn),
		counter:  stats.New(time.Now()),
	}
}

func randomSalt() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "fallback-salt"
	}
	return hex.EncodeToString(b[:])
}

// Run accepts connections on cfg.ListenAddr until ctx is cancelled. It
// blocks for the life of the server; call it in its own goroutine.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return mcerr.Wrap(mcerr.Network, err, "stratum: listen on %s", s.cfg.ListenAddr)
	}
	s.listener = ln

	if s.cfg.Difficulty.Mode == ModeAdaptive {
		go s.runDifficultyLoop(ctx)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.closeAllSessions()
				return nil
			default:
				continue
			}
		}
		s.acceptConn(ctx, nc)
	}
}

func (s *Server) acceptConn(ctx context.Context, nc net.Conn) {
	id := atomic.AddUint64(&s.nextConnID, 1)
	c := &conn{
		id:       id,
		netConn:  nc,
		outbound: make(chan Message, s.cfg.outboundBuffer),
		session:  NewSession(id, s.cfg.N1Size),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	go s.writeLoop(c)
	go s.readLoop(ctx, c)
}

func (s *Server) removeConn(c *conn) {
	c.closeOnce.Do(func() {
		s.mu.Lock()
		delete(s.sessions, c.id)
		s.mu.Unlock()
		c.session.Close()
		c.netConn.Close()
		close(c.done)
	})
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.removeConn(c)
	}
}

// writeLoop serializes every outbound message for one connection onto the
// wire, one JSON object per line.
func (s *Server) writeLoop(c *conn) {
	w := bufio.NewWriter(c.netConn)
	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			raw = append(raw, '\n')
			if _, err := w.Write(raw); err != nil {
				s.removeConn(c)
				return
			}
			if err := w.Flush(); err != nil {
				s.removeConn(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) send(c *conn, msg Message) {
	select {
	case c.outbound <- msg:
	default:
		log.Warnf("stratum: conn %d: outbound queue full, dropping connection", c.id)
		s.removeConn(c)
	}
}

// readLoop reads line-delimited JSON-RPC requests from one connection and
// dispatches them until the connection closes or ctx is cancelled.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	defer s.removeConn(c)

	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, 4096), 64*1024)

	c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.send(c, newError(nil, errParseError))
			continue
		}

		s.handleMethod(c, &msg)
	}
}

func (s *Server) handleMethod(c *conn, msg *Message) {
	switch msg.Method {
	case "mining.subscribe":
		s.handleSubscribe(c, msg)
	case "mining.authorize":
		s.handleAuthorize(c, msg)
	case "mining.submit":
		s.handleSubmit(c, msg)
	default:
		s.send(c, newError(msg.ID, errUnknownMethod))
	}
}

func (s *Server) handleSubscribe(c *conn, msg *Message) {
	n1, n1Size := c.session.Subscribe(fmt.Sprintf("%d", c.id), s.salt)

	result := []interface{}{
		fmt.Sprintf("%x", n1),
		8 - int(n1Size),
	}
	s.send(c, newResult(msg.ID, result))
}

func (s *Server) handleAuthorize(c *conn, msg *Message) {
	var params []string
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) < 1 {
		s.send(c, newError(msg.ID, errParseError))
		return
	}

	c.session.Authorize(params[0])

	initialTarget, initialDifficulty := s.initialTargetFor()
	c.session.SetTarget(initialTarget)
	c.session.SetDifficulty(initialDifficulty)

	s.send(c, newResult(msg.ID, true))
	s.sendDifficulty(c, initialDifficulty)

	if job, ok := s.currentJob(); ok {
		s.sendNotify(c, job, true)
	}
}

func (s *Server) handleSubmit(c *conn, msg *Message) {
	var params []string
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) < 4 {
		s.send(c, newError(msg.ID, errParseError))
		return
	}

	submit := SubmitParams{
		Username:    params[0],
		JobID:       params[1],
		Extranonce2: params[2],
		Ntime:       params[3],
	}

	outcome := c.session.ValidateSubmit(submit, s.jobs, time.Now())
	if outcome.Err != nil {
		s.send(c, newError(msg.ID, outcome.Err))
		return
	}

	s.send(c, newResult(msg.ID, true))
	s.counter.AddSolution()
	s.counter.AddHashes(1)

	if outcome.MeetsUpstream {
		s.forwardSolved(outcome.Solved)
	}
}

// forwardSolved hands a share meeting the upstream target to the waiting
// Mine call. Per spec.md section 5's backpressure rule, only one solved
// header is in flight upstream at a time; extra qualifying shares arriving
// while one is already queued are still accepted as shares but not
// forwarded again.
func (s *Server) forwardSolved(w work.Work) {
	s.mu.Lock()
	ch := s.solvedCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- w:
	default:
	}
}

func (s *Server) currentJob() (*Job, bool) {
	return s.jobs.Front()
}

func (s *Server) initialTargetFor() (target.Target, float64) {
	switch s.cfg.Difficulty.Mode {
	case ModeFixedLevel:
		return target.FromLevel(s.cfg.Difficulty.FixedLevel), levelToDifficulty(s.cfg.Difficulty.FixedLevel)
	case ModeAdaptive:
		d := minAdaptiveDifficulty
		t, err := targetForDifficulty(d)
		if err != nil {
			return target.Max(), 1
		}
		return t, d
	default: // ModeBlock
		job, ok := s.currentJob()
		if !ok {
			return target.Max(), 1
		}
		diff, err := job.Target.ToDifficulty()
		if err != nil {
			diff = 1
		}
		return job.Target, diff
	}
}

func levelToDifficulty(level uint) float64 {
	diff, err := target.FromLevel(level).ToDifficulty()
	if err != nil {
		return 1
	}
	return diff
}

func (s *Server) sendDifficulty(c *conn, difficulty float64) {
	s.send(c, newNotification("mining.set_difficulty", []interface{}{difficulty}))
}

func (s *Server) sendNotify(c *conn, job *Job, cleanJobs bool) {
	params := []interface{}{
		job.ID,
		uint32(job.ChainID),
		job.Work.Hex(),
		hex.EncodeToString(job.Target.BEBytes()[:]),
		cleanJobs,
	}
	s.send(c, newNotification("mining.notify", params))
}

func (s *Server) broadcastNotify(job *Job, cleanJobs bool) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if !c.session.IsAuthorized() {
			continue
		}
		s.sendNotify(c, job, cleanJobs)
	}
}

// Mine implements solver.Solver: it publishes req as a new job to every
// authorized session and blocks until a session submits a share meeting req.Target,
// or ctx is cancelled.
func (s *Server) Mine(ctx context.Context, req solver.MineRequest) (work.Work, error) {
	s.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	solvedCh := make(chan work.Work, 1)
	s.solvedCh = solvedCh
	s.mu.Unlock()
	defer cancel()

	job := s.jobs.Add(Job{ChainID: req.ChainID, Target: req.Target, Work: req.Work}, true)
	s.broadcastNotify(job, true)

	select {
	case w := <-solvedCh:
		if !pow.MeetsTarget(&w, req.Target) {
			return work.Work{}, mcerr.New(mcerr.Protocol, "stratum: forwarded share does not meet upstream target")
		}
		s.counter.AddSolution()
		return w, nil
	case <-mineCtx.Done():
		return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "stratum: mining round cancelled")
	}
}

// Stop cancels the in-flight Mine call, if any.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats returns the pool-wide accepted-share counts; HashRate counts one
// per accepted share, so it reads as accepted shares per second.
func (s *Server) Stats() solver.Stats {
	return s.counter.Snapshot(time.Now(), time.Second)
}

// runDifficultyLoop periodically retargets every authorized adaptive-mode
// session based on its observed share rate.
func (s *Server) runDifficultyLoop(ctx context.Context) {
	window := s.cfg.Difficulty.AdaptiveWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retargetAdaptiveSessions()
		}
	}
}

func (s *Server) retargetAdaptiveSessions() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	targetPeriod := s.cfg.Difficulty.AdaptiveTargetPeriod
	if targetPeriod <= 0 {
		targetPeriod = 15 * time.Second
	}
	tolerance := s.cfg.Difficulty.AdaptiveTolerance
	if tolerance <= 0 {
		tolerance = 0.2
	}

	for _, c := range conns {
		if !c.session.IsAuthorized() {
			continue
		}
		rate := c.session.estimatedHashRate()
		if rate <= 0 {
			continue
		}
		next, changed := adjustDifficulty(c.session.difficultyLocked(), rate, targetPeriod, tolerance)
		if !changed {
			continue
		}
		newTarget, err := targetForDifficulty(next)
		if err != nil {
			continue
		}
		c.session.SetDifficulty(next)
		c.session.SetTarget(newTarget)
		s.sendDifficulty(c, next)
	}
}
