package serve

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ddn-lixi/mtfs/cmd"
	"github.com/ddn-lixi/mtfs/fs/config/configmap"
	"github.com/ddn-lixi/mtfs/fs/rc/rcserver"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeAddr returns a local address nothing is listening on
func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServe(t *testing.T) {
	addr := freeAddr(t)
	oldAddr := cmd.RcAddr
	cmd.RcAddr = addr
	defer func() { cmd.RcAddr = oldAddr }()

	opt := rcserver.DefaultOpt
	opt.ListenAddr = addr
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, opt, configmap.Simple{
			"branches": "mem:0,mem:1",
			"subject":  "async",
		})
	}()

	require.Eventually(t, func() bool {
		_, err := cmd.CallRemote(ctx, "rc/noop", nil)
		return err == nil
	}, 10*time.Second, 10*time.Millisecond)

	out, err := cmd.CallRemote(ctx, "branch/getflag", map[string]interface{}{"path": "/"})
	require.NoError(t, err)
	assert.Len(t, out["flags"], 2)

	out, err = cmd.CallRemote(ctx, "async/dirty", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out["dump"])

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "mtfs_async_dirty_ranges")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve didn't stop")
	}
}

func TestServeBadConfig(t *testing.T) {
	opt := rcserver.DefaultOpt
	opt.ListenAddr = freeAddr(t)
	err := Serve(context.Background(), opt, configmap.Simple{
		"branches": "mem:",
		"subject":  "sometimes",
	})
	assert.Error(t, err)
}

func TestOverrides(t *testing.T) {
	command := &cobra.Command{}
	command.Flags().AddFlagSet(Command.Flags())
	require.NoError(t, command.Flags().Parse([]string{"--branches", "mem:0,mem:1", "--state-dir", "/tmp/state"}))
	defer func() {
		branches, stateDir = "", ""
	}()
	assert.Equal(t, configmap.Simple{
		"branches":  "mem:0,mem:1",
		"state_dir": "/tmp/state",
	}, overrides(command))
}
