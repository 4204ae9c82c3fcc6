// Package redisstub runs a small in-process RESP server that understands the
// commands the rate-limit store issues: PING, AUTH, SELECT and the sliding
// window script through EVALSHA/EVAL.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	logs     map[string][]logEntry
	failing  bool
	evals    int
	closed   chan struct{}
}

type logEntry struct {
	score  int64
	member string
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		logs:     make(map[string][]logEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// SetFailing makes every script call answer with an error reply.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Evals reports how many script executions were served.
func (s *Server) Evals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evals
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		var werr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "AUTH":
			password := args[len(args)-1]
			switch {
			case len(args) < 2 || len(args) > 3:
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			case s.opts.Password == "" || password == s.opts.Password:
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			default:
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "SELECT":
			werr = writeSimpleString(writer, "OK")
		case "EVALSHA":
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			werr = writeError(writer, "NOSCRIPT No matching script. Please use EVAL.")
		case "EVAL":
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			werr = s.eval(writer, args)
		default:
			werr = writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
		}
		if werr != nil {
			return
		}
	}
}

// eval emulates the sliding window script:
// EVAL <script> 1 <key> <nowMillis> <windowMillis> <limit> <member>.
func (s *Server) eval(w *bufio.Writer, args []string) error {
	if len(args) != 8 || args[2] != "1" {
		return writeError(w, "ERR unexpected script arguments")
	}
	key, member := args[3], args[7]
	now, err1 := strconv.ParseInt(args[4], 10, 64)
	window, err2 := strconv.ParseInt(args[5], 10, 64)
	limit, err3 := strconv.ParseInt(args[6], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return writeError(w, "ERR value is not an integer or out of range")
	}

	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return writeError(w, "ERR injected failure")
	}
	s.evals++
	log := s.logs[key]
	kept := log[:0]
	for _, entry := range log {
		if entry.score > now-window {
			kept = append(kept, entry)
		}
	}
	var reply []int64
	if count := int64(len(kept)); count < limit {
		kept = append(kept, logEntry{score: now, member: member})
		sort.Slice(kept, func(i, j int) bool { return kept[i].score < kept[j].score })
		reply = []int64{1, limit - count - 1, 0}
	} else {
		retry := window
		if len(kept) > 0 {
			retry = kept[0].score + window - now
		}
		reply = []int64{0, 0, retry}
	}
	s.logs[key] = kept
	s.mu.Unlock()

	return writeIntegers(w, reply)
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	count, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeIntegers(w *bufio.Writer, values []int64) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
