package swarm

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// ClientConfig configures the connection to the Docker host.
type ClientConfig struct {
	// Host is the Docker host address. Empty means the environment default.
	// Supported schemes: unix://, tcp:// and ssh://user@host[:port].
	Host string

	// TLSCertPath is a directory containing ca.pem, cert.pem and key.pem
	// for tcp hosts. Empty disables explicit TLS configuration.
	TLSCertPath string

	// TLSVerify controls server certificate verification for tcp hosts.
	TLSVerify bool

	// SSHKeyPath is the private key used for ssh hosts.
	// Default: ~/.ssh/id_rsa.
	SSHKeyPath string

	// SSHTimeout bounds the SSH connection attempt. Default: 10 seconds.
	SSHTimeout time.Duration
}

// DockerClient implements Client using the Docker SDK against a Swarm
// manager.
type DockerClient struct {
	cli       *client.Client
	sshClient *ssh.Client // non-nil only for ssh:// hosts
}

// NewDockerClient creates a client for the configured Docker host.
// With an empty host the connection settings come from the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH).
func NewDockerClient(cfg ClientConfig) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}

	var sshClient *ssh.Client
	switch {
	case strings.HasPrefix(cfg.Host, "ssh://"):
		sshOpts, conn, err := sshClientOpts(cfg)
		if err != nil {
			return nil, NewApplyError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
		}
		sshClient = conn
		opts = append(opts, sshOpts...)
	case cfg.Host != "":
		opts = append(opts, client.WithHost(cfg.Host))
		if cfg.TLSCertPath != "" {
			httpClient, err := tlsHTTPClient(cfg)
			if err != nil {
				return nil, NewApplyError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
			}
			opts = append(opts, client.WithHTTPClient(httpClient))
		}
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		if sshClient != nil {
			sshClient.Close()
		}
		return nil, NewApplyError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerClient{cli: cli, sshClient: sshClient}, nil
}

// Ping checks that the Docker host is reachable and can schedule Swarm
// services.
func (c *DockerClient) Ping(ctx context.Context) error {
	ping, err := c.cli.Ping(ctx)
	if err != nil {
		return NewApplyError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	if ping.SwarmStatus == nil || !ping.SwarmStatus.ControlAvailable {
		return NewApplyError("Ping", "", "", "swarm mode is inactive or the host is not a manager", ErrNotSwarmManager)
	}
	return nil
}

// Close closes the Docker connection and, for ssh hosts, the tunnel.
func (c *DockerClient) Close() error {
	err := c.cli.Close()
	if c.sshClient != nil {
		if sshErr := c.sshClient.Close(); err == nil {
			err = sshErr
		}
	}
	return err
}

// tlsHTTPClient builds an HTTP client using the certificate material in
// TLSCertPath, mirroring how the docker CLI treats DOCKER_CERT_PATH.
func tlsHTTPClient(cfg ClientConfig) (*http.Client, error) {
	options := tlsconfig.Options{
		CAFile:             filepath.Join(cfg.TLSCertPath, "ca.pem"),
		CertFile:           filepath.Join(cfg.TLSCertPath, "cert.pem"),
		KeyFile:            filepath.Join(cfg.TLSCertPath, "key.pem"),
		InsecureSkipVerify: !cfg.TLSVerify,
	}
	tlsc, err := tlsconfig.Client(options)
	if err != nil {
		return nil, fmt.Errorf("load TLS configuration: %w", err)
	}
	return &http.Client{
		Transport:     &http.Transport{TLSClientConfig: tlsc},
		CheckRedirect: client.CheckRedirect,
	}, nil
}
