// Package ctlsock exposes a line-oriented control socket so shell tooling
// and browser helpers can steer a running instance. One command per
// connection:
//
//	open <pull-request-url>\n
//
// answered with "ok\n" or "error: <reason>\n".
package ctlsock

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// writeTimeout bounds the reply write so a stuck client cannot hold the
// handler goroutine.
const writeTimeout = 5 * time.Second

// Requester is the slice of the engine the socket needs.
type Requester interface {
	RequestPullRequest(repoFullName string, number int)
}

// Server listens on a unix socket and translates commands into engine
// requests.
type Server struct {
	requester Requester
	path      string

	ln net.Listener
}

// NewServer prepares a server on the given socket path. A stale socket
// file from a previous run is removed.
func NewServer(requester Requester, path string) *Server {
	return &Server{requester: requester, path: path}
}

// Listen binds the socket. Call before Serve so startup failures surface
// synchronously.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.path, err)
	}

	s.ln = ln
	return nil
}

// Serve accepts connections until ctx is canceled, then closes the
// listener and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
		os.Remove(s.path)
	}()

	slog.Info("control socket listening", "path", s.path)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if err := s.dispatch(strings.TrimSpace(line)); err != nil {
		fmt.Fprintf(conn, "error: %s\n", err)
		return
	}
	fmt.Fprint(conn, "ok\n")
}

func (s *Server) dispatch(line string) error {
	cmd, arg, _ := strings.Cut(line, " ")

	switch cmd {
	case "open":
		repoFullName, number, err := ParsePullRequestURL(strings.TrimSpace(arg))
		if err != nil {
			return err
		}
		s.requester.RequestPullRequest(repoFullName, number)
		slog.Info("open requested via control socket", "repo", repoFullName, "number", number)
		return nil

	case "":
		return fmt.Errorf("empty command")

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// ParsePullRequestURL extracts "owner/repo" and the PR number from a web
// URL of the form https://host/owner/repo/pull/123 (any trailing path or
// fragment is ignored).
func ParsePullRequestURL(raw string) (string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "pull" {
		return "", 0, fmt.Errorf("not a pull request url: %s", raw)
	}

	number, err := strconv.Atoi(parts[3])
	if err != nil || number <= 0 {
		return "", 0, fmt.Errorf("invalid pull request number %q", parts[3])
	}

	return parts[0] + "/" + parts[1], number, nil
}
