package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/perimeterd/perimeterd/internal/platform/timeouts"
)

// shellCommands is the closed set of commands the shell transport will run.
// Each entry is a complete, fixed command line. Caller input never reaches
// the remote shell; anything outside this table fails before a connection
// is opened.
var shellCommands = map[string]string{
	"system.status":      "pfSsh.php playback getsystemstatus",
	"firewall.rules.get": "pfSsh.php playback listfirewallrules",
	"interface.list":     "pfSsh.php playback listinterfaces",
}

// ShellConfig carries the settings for the SSH shell transport.
type ShellConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// KeyPath points at a PEM private key. When set it takes precedence
	// over Password.
	KeyPath string
}

// sessionRunner opens a session and runs one fixed command line, returning
// the combined standard output. Tests substitute it to observe which
// commands would reach the appliance.
type sessionRunner func(ctx context.Context, command string) ([]byte, error)

// ShellStrategy runs allow-listed playback commands over SSH.
type ShellStrategy struct {
	cfg ShellConfig
	run sessionRunner
}

// NewShellStrategy builds an SSH shell transport from cfg.
func NewShellStrategy(cfg ShellConfig) *ShellStrategy {
	s := &ShellStrategy{cfg: cfg}
	s.run = s.runSession
	return s
}

// Name implements Strategy.
func (s *ShellStrategy) Name() string { return "ssh" }

// Execute implements Strategy. Parameters are ignored; the playback commands
// take no arguments.
func (s *ShellStrategy) Execute(ctx context.Context, command string, _ map[string]any) (Result, error) {
	line, ok := shellCommands[command]
	if !ok {
		return nil, &TransportError{Kind: KindUnsupported, Detail: fmt.Sprintf("command %q has no shell mapping", command)}
	}
	out, err := s.run(ctx, line)
	if err != nil {
		return nil, err
	}
	var decoded any
	if json.Unmarshal(out, &decoded) == nil {
		if m, ok := decoded.(map[string]any); ok {
			return Result(m), nil
		}
	}
	return Result{"output": string(bytes.TrimSpace(out))}, nil
}

func (s *ShellStrategy) runSession(ctx context.Context, command string) ([]byte, error) {
	auth, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeouts.SSHDial,
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "ssh dial failed", Cause: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "ssh session failed", Cause: err}
	}
	defer session.Close()

	type runResult struct {
		out []byte
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- runResult{out: out, err: err}
	}()
	select {
	case <-ctx.Done():
		client.Close()
		return nil, &TransportError{Kind: KindUnreachable, Detail: "ssh command canceled", Cause: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return nil, &TransportError{Kind: KindUnreachable, Detail: "ssh command failed", Cause: r.err}
		}
		return r.out, nil
	}
}

func (s *ShellStrategy) authMethods() ([]ssh.AuthMethod, error) {
	if s.cfg.KeyPath != "" {
		pem, err := os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, &TransportError{Kind: KindUnauthorized, Detail: "read ssh key", Cause: err}
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, &TransportError{Kind: KindUnauthorized, Detail: "parse ssh key", Cause: err}
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(s.cfg.Password)}, nil
}
