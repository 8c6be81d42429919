package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/sonorad/pkg/adminapi"
	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/config"
	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/mainloop"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/rtpengine"
	"github.com/rapidaai/sonorad/pkg/signalbridge"
	"github.com/rapidaai/sonorad/pkg/streamrestore"
)

// defaultBlockSize/defaultBlockSizeMax size the process-wide memblock
// pool every sink/source/stream allocates from (spec.md §4.A).
const (
	defaultBlockSize    = 4096
	defaultBlockSizeMax = 1 << 20
)

// Daemon owns every long-lived component: the routing/mixing core,
// the native-protocol listener, the optional network sinks/sources,
// stream-restore persistence, the admin surface, port allocation, and
// signal-driven shutdown.
type Daemon struct {
	cfg  *config.Config
	log  commons.Logger
	core *core.Core
	pool *memblock.Pool

	cookie  []byte
	restore *streamrestore.Store
	admin   *adminapi.Server
	bridge  *signalbridge.Bridge
	ports   rtpengine.PortAllocator

	listener net.Listener

	sinkConsumers    map[uint32]func(memblock.Chunk)
	allocatedRTPPort int
}

// New builds a Daemon from cfg but does not yet open any sockets; call
// Run to actually start serving.
func New(ctx context.Context, cfg *config.Config, log commons.Logger) (*Daemon, error) {
	cookie, err := loadOrCreateCookie()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:           cfg,
		log:           log,
		core:          core.New(log),
		pool:          memblock.NewPool(defaultBlockSize, defaultBlockSizeMax),
		cookie:        cookie,
		sinkConsumers: make(map[uint32]func(memblock.Chunk)),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ports, err := rtpengine.NewRedisPortAllocator(ctx, rdb, log.With("component", "portalloc"), int(cfg.RTPPortMin), int(cfg.RTPPortMax))
		if err != nil {
			return nil, err
		}
		d.ports = ports
	} else {
		d.ports = rtpengine.NewLocalPortAllocator(int(cfg.RTPPortMin), int(cfg.RTPPortMax))
	}

	if cfg.StreamRestoreDBPath != "" {
		store, err := streamrestore.Open(cfg.StreamRestoreDBPath, log.With("component", "streamrestore"))
		if err != nil {
			return nil, err
		}
		d.restore = store
	}

	if cfg.AdminListenAddr != "" {
		d.admin = adminapi.New(d.core, log.With("component", "adminapi"))
	}

	return d, nil
}

// Run opens the native-protocol listener and every configured network
// transport, then blocks until ctx is cancelled or a fatal component
// error occurs, tearing everything down on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.bridge = signalbridge.New(os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer d.bridge.Close()
	d.bridge.On(os.Interrupt, func(os.Signal) { cancel() })
	d.bridge.On(syscall.SIGTERM, func(os.Signal) { cancel() })
	d.bridge.On(syscall.SIGHUP, func(os.Signal) {
		d.log.Info("received SIGHUP: configuration reload is not supported, ignoring")
	})

	sigLoop := mainloop.NewStdLoop()
	d.bridge.Install(sigLoop)
	go sigLoop.Run()
	go func() {
		<-ctx.Done()
		sigLoop.Quit(0)
	}()

	if err := d.setupNullSink(); err != nil {
		return err
	}
	if d.cfg.RAOPHost != "" {
		if err := d.setupRAOPSink(ctx); err != nil {
			d.log.Warn("raop sink setup failed, continuing without it", "error", err)
		}
	}
	if d.cfg.RTPRemoteAddr != "" {
		if err := d.setupRTPSink(ctx); err != nil {
			d.log.Warn("rtp sink setup failed, continuing without it", "error", err)
		}
	}
	if d.cfg.RTPListenAddr != "" {
		if err := d.setupRTPSource(ctx); err != nil {
			d.log.Warn("rtp source setup failed, continuing without it", "error", err)
		}
	}

	l, err := listen(d.cfg.Server)
	if err != nil {
		return err
	}
	d.listener = l

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runRenderLoop(gctx) })
	g.Go(func() error { return d.acceptLoop(gctx) })
	if d.admin != nil {
		adminSrv := &http.Server{
			Addr:              d.cfg.AdminListenAddr,
			Handler:           d.admin.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		go func() {
			<-gctx.Done()
			adminSrv.Close()
		}()
	}

	go func() {
		<-gctx.Done()
		d.listener.Close()
	}()

	err = g.Wait()
	if d.allocatedRTPPort != 0 {
		d.ports.Release(context.Background(), d.allocatedRTPPort)
	}
	if d.restore != nil {
		d.restore.Close()
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Daemon) acceptLoop(ctx context.Context) error {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sess := newSession(conn, d)
		go sess.run()
	}
}
