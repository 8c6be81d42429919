package signalbridge

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/mainloop"
)

func TestBridge_DeliversRegisteredSignalToLoop(t *testing.T) {
	b := New(syscall.SIGUSR1)
	defer b.Close()

	loop := mainloop.NewStdLoop()
	fired := make(chan struct{}, 1)
	b.On(syscall.SIGUSR1, func(sig os.Signal) {
		fired <- struct{}{}
	})
	src := b.Install(loop)
	defer src.Cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
		time.Sleep(50 * time.Millisecond)
		loop.Quit(0)
	}()

	loop.Run()

	select {
	case <-fired:
	default:
		t.Fatal("handler was never invoked")
	}
}

func TestBridge_UnregisteredSignalIsIgnored(t *testing.T) {
	b := New(syscall.SIGUSR2)
	defer b.Close()
	assert.NotPanics(t, func() {
		b.On(syscall.SIGHUP, func(os.Signal) {})
	})
	require.NotNil(t, b)
}
