package ctlsock

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRequester struct {
	requests chan string
}

func newRecordingRequester() *recordingRequester {
	return &recordingRequester{requests: make(chan string, 8)}
}

func (r *recordingRequester) RequestPullRequest(repoFullName string, number int) {
	r.requests <- fmt.Sprintf("%s#%d", repoFullName, number)
}

func startServer(t *testing.T) (*recordingRequester, string) {
	t.Helper()

	requester := newRecordingRequester()
	path := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(requester, path)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	return requester, path
}

func send(t *testing.T, path, line string) string {
	t.Helper()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return reply
}

func TestServer_OpenCommandRequestsPullRequest(t *testing.T) {
	requester, path := startServer(t)

	reply := send(t, path, "open https://github.com/acme/widgets/pull/42")
	assert.Equal(t, "ok\n", reply)

	select {
	case got := <-requester.requests:
		assert.Equal(t, "acme/widgets#42", got)
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the engine")
	}
}

func TestServer_BadURLReturnsError(t *testing.T) {
	requester, path := startServer(t)

	reply := send(t, path, "open https://github.com/acme/widgets")
	assert.Contains(t, reply, "error:")
	assert.Empty(t, requester.requests)
}

func TestServer_UnknownCommandReturnsError(t *testing.T) {
	_, path := startServer(t)

	reply := send(t, path, "frobnicate now")
	assert.Equal(t, "error: unknown command \"frobnicate\"\n", reply)
}

func TestServer_ListenRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")

	// A crashed process leaves the socket file behind.
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv := NewServer(newRecordingRequester(), path)
	require.NoError(t, srv.Listen())
	srv.ln.Close()
}

func TestParsePullRequestURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		repo    string
		number  int
		wantErr bool
	}{
		{name: "plain", raw: "https://github.com/acme/widgets/pull/42", repo: "acme/widgets", number: 42},
		{name: "files tab", raw: "https://github.com/acme/widgets/pull/7/files", repo: "acme/widgets", number: 7},
		{name: "fragment", raw: "https://github.com/acme/widgets/pull/7#discussion_r1", repo: "acme/widgets", number: 7},
		{name: "enterprise host", raw: "https://git.example.com/acme/widgets/pull/3", repo: "acme/widgets", number: 3},
		{name: "issue url", raw: "https://github.com/acme/widgets/issues/42", wantErr: true},
		{name: "repo root", raw: "https://github.com/acme/widgets", wantErr: true},
		{name: "bad number", raw: "https://github.com/acme/widgets/pull/abc", wantErr: true},
		{name: "zero number", raw: "https://github.com/acme/widgets/pull/0", wantErr: true},
		{name: "garbage", raw: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, number, err := ParsePullRequestURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.number, number)
		})
	}
}
