package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/udpin/internal/command"
	"firestige.xyz/udpin/internal/session"
)

// freeUDPPort returns a loopback port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

// testDir returns a short directory; sun_path is limited to ~108 bytes.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "udpind")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeConfig(t *testing.T, dir, sinkType string) string {
	t.Helper()
	return writeSinkConfig(t, dir, "type: "+sinkType)
}

// writeSinkConfig writes a config whose sink section is sinkYAML, indented
// under "sink:".
func writeSinkConfig(t *testing.T, dir, sinkYAML string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	content := fmt.Sprintf(`
udpin:
  node:
    hostname: test-daemon-001
  control:
    socket: %s
    pid_file: %s
  access:
    udp_buffer: 65536
  sink:
    %s
  log:
    level: debug
    format: pattern
  metrics:
    enabled: true
    listen: 127.0.0.1:0
`, filepath.Join(dir, "udpin.sock"), filepath.Join(dir, "udpin.pid"), strings.ReplaceAll(sinkYAML, "\n", "\n    "))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	dir := testDir(t)
	port := freeUDPPort(t)

	out := filepath.Join(dir, "out.bin")
	d, err := New(Options{
		ConfigPath: writeSinkConfig(t, dir, fmt.Sprintf("type: file\noptions:\n  path: %s", out)),
		Endpoint:   fmt.Sprintf("udp://@127.0.0.1:%d", port),
	})
	require.NoError(t, err)
	require.NoError(t, d.Start())
	assert.Equal(t, session.StateRunning, d.session.State())

	socketPath := d.Config().Control.Socket
	pidFile := d.Config().Control.PIDFile
	assert.FileExists(t, pidFile)
	assert.NotEmpty(t, d.MetricsAddr())
	assert.NotEmpty(t, d.SessionID())

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	sender, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer sender.Close()
	var want strings.Builder
	for i := 0; i < 5; i++ {
		payload := fmt.Sprintf("datagram-%d", i)
		want.WriteString(payload)
		_, err := sender.Write([]byte(payload))
		require.NoError(t, err)
	}

	// the file sink receives every payload, flushed while the daemon runs
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && string(data) == want.String()
	}, 5*time.Second, 20*time.Millisecond)

	client := command.NewUDSClient(socketPath, 2*time.Second)
	require.Eventually(t, func() bool {
		resp, err := client.SessionStats(context.Background())
		if err != nil || resp.Error != nil {
			return false
		}
		result := resp.Result.(map[string]any)
		pl, ok := result["pipeline"].(map[string]any)
		return ok && pl["written"] == float64(5)
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.SessionStatus(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Equal(t, "running", resp.Result.(map[string]any)["state"])

	resp, err = client.DaemonShutdown(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	assert.NoFileExists(t, pidFile)
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "UDS socket was not removed after shutdown")

	// Stop is idempotent
	d.Stop()
}

func TestDaemon_StartFailureCleansUp(t *testing.T) {
	dir := testDir(t)

	d, err := New(Options{
		ConfigPath: writeConfig(t, dir, "discard"),
		Endpoint:   fmt.Sprintf("udp://@127.0.0.1:%d", freeUDPPort(t)),
		Sink:       "file", // no path option
	})
	require.NoError(t, err)

	err = d.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink")
	assert.NoFileExists(t, d.Config().Control.PIDFile)
}

func TestDaemon_InvalidEndpoint(t *testing.T) {
	dir := testDir(t)

	d, err := New(Options{
		ConfigPath: writeConfig(t, dir, "discard"),
		Endpoint:   "udp://@127.0.0.1:notaport",
	})
	require.NoError(t, err)

	err = d.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve endpoint")
}

func TestDaemon_SessionConfigDump(t *testing.T) {
	dir := testDir(t)
	dump := filepath.Join(dir, "in.pcap")

	d, err := New(Options{
		ConfigPath: writeConfig(t, dir, "console"),
		Endpoint:   "udp://10.0.0.1:5000@:6000",
		DumpPath:   dump,
	})
	require.NoError(t, err)

	sc, err := d.SessionConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, sc.RawCapture.Enabled)
	assert.Equal(t, dump, sc.RawCapture.Path)
	assert.Equal(t, 65536, sc.QueueCapacity)
	assert.Equal(t, uint16(6000), sc.Bind.Port())
	assert.Equal(t, "10.0.0.1:5000", sc.Remote.String())
}

func TestDaemon_SinkOverrideValidated(t *testing.T) {
	dir := testDir(t)

	_, err := New(Options{
		ConfigPath: writeConfig(t, dir, "discard"),
		Sink:       "carrier-pigeon",
	})
	assert.Error(t, err)
}

func TestDaemon_TriggerShutdownTwice(t *testing.T) {
	dir := testDir(t)
	d, err := New(Options{ConfigPath: writeConfig(t, dir, "discard")})
	require.NoError(t, err)

	d.TriggerShutdown()
	d.TriggerShutdown()
	select {
	case <-d.shutdownChan:
	default:
		t.Fatal("shutdown channel not closed")
	}
}
