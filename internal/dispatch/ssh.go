package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amariwan/cronexec/internal/util"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the remote host commands are sent to
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	KnownHostsFile string
	// Insecure skips host key verification. Only for lab setups.
	Insecure bool
	Timeout  time.Duration
}

// SSH runs each command in a fresh session on a remote host
type SSH struct {
	config       SSHConfig
	clientConfig *ssh.ClientConfig
	logger       util.Logger
}

// NewSSH reads the private key and known_hosts file and returns a dispatcher.
func NewSSH(config SSHConfig, logger util.Logger) (*SSH, error) {
	if config.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if config.Port == 0 {
		config.Port = 22
	}

	keyData, err := os.ReadFile(config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeyCallback, err := hostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	return &SSH{
		config: config,
		clientConfig: &ssh.ClientConfig{
			User:            config.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         config.Timeout,
		},
		logger: logger,
	}, nil
}

func hostKeyCallback(config SSHConfig) (ssh.HostKeyCallback, error) {
	if config.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if config.KnownHostsFile == "" {
		return nil, errors.New("ssh known_hosts file is required unless insecure is set")
	}
	cb, err := knownhosts.New(config.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

func (s *SSH) addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func (s *SSH) Dispatch(ctx context.Context, command string) error {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	dialer := &net.Dialer{Timeout: s.clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return fmt.Errorf("ssh dial failed: %w", err)
	}
	// A peer that stalls mid-handshake or mid-command is cut off here.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, s.addr(), s.clientConfig)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return fmt.Errorf("ssh handshake aborted: %w", ctx.Err())
		}
		return fmt.Errorf("ssh handshake failed: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session failed: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	result := make(chan error, 1)
	go func() { result <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Closing the client unblocks Run.
		client.Close()
		return fmt.Errorf("remote command aborted: %w", ctx.Err())
	case err := <-result:
		if out.Len() > 0 {
			s.logger.Debug("Remote command output", "host", s.config.Host, "output", strings.TrimSpace(out.String()))
		}
		if err != nil {
			return fmt.Errorf("remote command failed: %w", err)
		}
		return nil
	}
}
